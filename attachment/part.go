package attachment

// PartType tells the transport how to get the bytes of a Part
type PartType int

const (
	PartBuffer PartType = iota
	PartFile
	PartCallback
	PartUnknown
)

var partTypes = [...]string{
	"buffer",
	"file",
	"callback",
	"unknown",
}

func (t PartType) String() string {
	if t < 0 || int(t) >= len(partTypes) {
		return partTypes[PartUnknown]
	}
	return partTypes[t]
}

// Part is a single wire-ready piece of an outbound message
type Part struct {
	Type PartType
	// Data holds the bytes of a PartBuffer
	Data []byte
	// FileName is the path of a PartFile
	FileName string
	// Size is the number of bytes the part will write, -1 when only the callback knows
	Size int64
	// Sender and UserParam describe a PartCallback
	Sender    SendingCallback
	UserParam interface{}
}

// PartList is the ordered sequence of parts the transport writes out
type PartList struct {
	parts []*Part
}

func NewPartList() *PartList {
	return &PartList{parts: make([]*Part, 0, 8)}
}

// AddBuffer appends data, which must not be modified until the list is written
func (l *PartList) AddBuffer(data []byte) {
	l.parts = append(l.parts, &Part{Type: PartBuffer, Data: data, Size: int64(len(data))})
}

// AddString appends a buffer part holding s
func (l *PartList) AddString(s string) {
	l.AddBuffer([]byte(s))
}

// AddFile appends a reference to size bytes of fileName, read when the list is written
func (l *PartList) AddFile(fileName string, size int64) {
	l.parts = append(l.parts, &Part{Type: PartFile, FileName: fileName, Size: size})
}

// AddCallback appends a part that pulls its bytes from sender when the list is written
func (l *PartList) AddCallback(sender SendingCallback, userParam interface{}) {
	l.parts = append(l.parts, &Part{Type: PartCallback, Sender: sender, UserParam: userParam, Size: -1})
}

// Add appends an already built part
func (l *PartList) Add(p *Part) {
	l.parts = append(l.parts, p)
}

// Parts returns the parts in order
func (l *PartList) Parts() []*Part {
	return l.parts
}

func (l *PartList) Len() int {
	return len(l.parts)
}

// Size is the total number of bytes of the list, or -1 if a callback part makes it unknown
func (l *PartList) Size() int64 {
	var total int64
	for _, p := range l.parts {
		if p.Size < 0 || p.Type == PartCallback {
			return -1
		}
		total += p.Size
	}
	return total
}
