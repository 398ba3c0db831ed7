package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/chunk"
	"github.com/flashmob/go-mtom/mime"
	"github.com/flashmob/go-mtom/transport"
	"github.com/flashmob/go-mtom/xop"
)

var (
	unpackIn          string
	unpackDir         string
	unpackContentType string
	unpackBoundary    string
	unpackBufferSize  int

	unpackCmd = &cobra.Command{
		Use:   "unpack",
		Short: "split an MTOM message into its SOAP envelope and attachment files",
		RunE:  unpack,
	}
)

func init() {
	f := unpackCmd.Flags()
	f.StringVarP(&unpackIn, "in", "i", "-", "The message to read, - for stdin")
	f.StringVarP(&unpackDir, "dir", "d", ".", "Directory the parts are written to")
	f.StringVarP(&unpackContentType, "content-type", "t", "", "Content-Type header of the message, used to find the boundary")
	f.StringVarP(&unpackBoundary, "boundary", "b", "", "MIME boundary, read from the first line of the message if empty")
	f.IntVar(&unpackBufferSize, "buffer-size", chunk.DefaultBufferSize, "Size of the parser buffers")
	rootCmd.AddCommand(unpackCmd)
}

// sniffBoundary takes the boundary from a message that starts with its first delimiter line
func sniffBoundary(r *bufio.Reader) (string, error) {
	for n := 64; ; n *= 2 {
		b, err := r.Peek(n)
		if i := bytes.Index(b, []byte("\r\n")); i >= 0 {
			if !bytes.HasPrefix(b, []byte("--")) || i == 2 {
				break
			}
			return string(b[2:i]), nil
		}
		if err != nil || n >= 4096 {
			break
		}
	}
	return "", errors.Wrap(chunk.ErrMalformedStream, "no boundary on the first line, use --boundary or --content-type")
}

func unpack(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if unpackIn != "-" {
		f, err := os.Open(unpackIn)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	r := bufio.NewReader(in)
	boundary := unpackBoundary
	var err error
	if boundary == "" && unpackContentType != "" {
		if boundary, err = transport.BoundaryFromContentType(unpackContentType); err != nil {
			return err
		}
	}
	if boundary == "" {
		if boundary, err = sniffBoundary(r); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(unpackDir, 0755); err != nil {
		return err
	}

	p := mime.NewParser()
	defer p.Free()
	p.SetLogger(mainlog)
	p.SetBufferSize(unpackBufferSize)
	p.SetAttachmentDir(unpackDir)
	cb, ctx := transport.NewReaderCallback(r)
	parts, err := p.ParseForAttachments(cb, ctx, boundary, nil)
	if err != nil {
		return err
	}
	soapPath := filepath.Join(unpackDir, "root.xml")
	if err := os.WriteFile(soapPath, p.SoapBody(), 0644); err != nil {
		return err
	}
	fmt.Printf("%s\t%s\t%d\n", p.RootHeader().ContentID(), soapPath, p.SoapBodyLen())
	for _, node := range mime.NodesFromParts(parts) {
		h := node.DataHandler()
		if mime.Encoded(h.TransferEncoding()) {
			if err := decodeInPlace(h); err != nil {
				return err
			}
		}
		info := mime.Info(h)
		fmt.Printf("%s\t%s\t%d\t%s\n", info.ContentID, h.FileName(), info.Size, info.ContentType)
	}
	if missing, err := xop.Unresolved(p.SoapBody(), parts); err == nil && len(missing) > 0 {
		mainlog.Warnf("the envelope references %d parts that were not in the message: %v", len(missing), missing)
	}
	return nil
}

// decodeInPlace replaces the spooled file of h with its decoded content
func decodeInPlace(h *attachment.DataHandler) (err error) {
	tmp := h.FileName() + ".decoded"
	r, err := mime.Open(h)
	if err != nil {
		return err
	}
	defer r.Close()
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "decode %s", h.ContentID())
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err = os.Rename(tmp, h.FileName()); err != nil {
		return err
	}
	h.SetTransferEncoding("")
	return nil
}
