package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/flashmob/go-mtom/attachment"
	"github.com/flashmob/go-mtom/config"
	"github.com/flashmob/go-mtom/mime"
	"github.com/flashmob/go-mtom/transport"
	"github.com/flashmob/go-mtom/xop"
)

// partSpec is one id=source[,content-type] flag value
type partSpec struct {
	id          string
	source      string
	contentType string
}

// partFlags collects repeated --file and --stored flags
type partFlags []partSpec

var _ pflag.Value = (*partFlags)(nil)

func (p *partFlags) String() string {
	s := make([]string, 0, len(*p))
	for _, ps := range *p {
		s = append(s, ps.id+"="+ps.source)
	}
	return strings.Join(s, " ")
}

func (p *partFlags) Set(v string) error {
	eq := strings.Index(v, "=")
	if eq < 1 || eq == len(v)-1 {
		return errors.Errorf("%q is not id=source[,content-type]", v)
	}
	ps := partSpec{id: attachment.BareID(v[:eq]), source: v[eq+1:]}
	if c := strings.LastIndex(ps.source, ","); c > 0 {
		ps.contentType = ps.source[c+1:]
		ps.source = ps.source[:c]
	}
	*p = append(*p, ps)
	return nil
}

func (p *partFlags) Type() string {
	return "id=source"
}

var (
	packSoap      string
	packOut       string
	packRootID    string
	packCharset   string
	packBoundary  string
	packChunkSize int
	packConfig    string
	packFiles     partFlags
	packStored    partFlags

	packCmd = &cobra.Command{
		Use:   "pack",
		Short: "write a SOAP envelope and its attachments as one MTOM message",
		RunE:  pack,
	}
)

func init() {
	f := packCmd.Flags()
	f.StringVarP(&packSoap, "soap", "s", "", "Path to the SOAP envelope")
	f.StringVarP(&packOut, "out", "o", "-", "Where to write the message, - for stdout")
	f.StringVar(&packRootID, "root-id", "", "Content-ID of the root part, generated if empty")
	f.StringVar(&packCharset, "charset", mime.DefaultCharset, "Charset of the SOAP envelope")
	f.StringVarP(&packBoundary, "boundary", "b", "", "MIME boundary, generated if empty")
	f.IntVar(&packChunkSize, "chunk-size", transport.DefaultChunkSize, "Size of the writes made from files")
	f.StringVarP(&packConfig, "config", "c", "", "Config with the sending_callback used by --stored")
	f.Var(&packFiles, "file", "Attach a file, id=path[,content-type]. Repeatable")
	f.Var(&packStored, "stored", "Attach what the sending callback holds under key, id=key[,content-type]. Repeatable")
	_ = packCmd.MarkFlagRequired("soap")
	rootCmd.AddCommand(packCmd)
}

func pack(cmd *cobra.Command, args []string) error {
	soap, err := ioutil.ReadFile(packSoap)
	if err != nil {
		return errors.Wrap(err, "cannot read the soap envelope")
	}
	nodes := make([]mime.TextNode, 0, len(packFiles)+len(packStored))
	parts := map[string]*attachment.DataHandler{}
	for _, ps := range packFiles {
		if _, err := os.Stat(ps.source); err != nil {
			return err
		}
		h := attachment.NewFile(ps.source, ps.contentType)
		nodes = append(nodes, mime.NewTextNode(ps.id, h))
		parts[attachment.BracketID(ps.id)] = h
	}
	if len(packStored) > 0 {
		sender, err := storedSender(packConfig)
		if err != nil {
			return err
		}
		defer func() {
			if err := sender.Free(); err != nil {
				mainlog.WithError(err).Warn("could not free the sending callback")
			}
		}()
		for _, ps := range packStored {
			h := attachment.NewCallback(sender, ps.source, ps.contentType)
			nodes = append(nodes, mime.NewTextNode(ps.id, h))
			parts[attachment.BracketID(ps.id)] = h
		}
	}
	if missing, err := xop.Unresolved(soap, parts); err == nil {
		for _, id := range missing {
			mainlog.WithContentID(id).Warn("the envelope references a part that is not attached")
		}
	}

	boundary := packBoundary
	if boundary == "" {
		boundary = mime.NewBoundary()
	}
	rootID := packRootID
	if rootID == "" {
		rootID = mime.NewContentID(0, "")
	}
	list, err := mime.CreatePartList(soap, nodes, boundary, rootID, packCharset, mime.SoapContentType)
	if err != nil {
		return err
	}

	out := os.Stdout
	if packOut != "-" {
		if out, err = os.Create(packOut); err != nil {
			return err
		}
		defer out.Close()
	}
	s := transport.NewSender()
	s.ChunkSize = packChunkSize
	s.Log = mainlog
	n, err := s.Send(out, list)
	if err != nil {
		return err
	}
	mainlog.WithBoundary(boundary).Debugf("wrote %d bytes in %d parts", n, list.Len())
	fmt.Fprintf(os.Stderr, "Content-Type: %s\n", mime.ContentTypeForMime(boundary, rootID, packCharset, mime.SoapContentType))
	return nil
}

// storedSender opens the sending callback named by the config
func storedSender(path string) (attachment.SendingCallback, error) {
	if path == "" {
		return nil, errors.New("--stored needs a --config naming a sending_callback")
	}
	ac, err := config.Load(path, "")
	if err != nil {
		return nil, err
	}
	if ac.SendingCallback == "" {
		return nil, errors.Errorf("%s has no sending_callback", path)
	}
	setRedisDriver(ac.RedisDriver)
	return attachment.NewSendingCallback(ac.SendingCallback, ac.CallbackConfig)
}
