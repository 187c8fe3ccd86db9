package amqpengine

import "fmt"

// Open is the connection-level performative exchanged once per connection.
type Open struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	IdleTimeout  uint32 // milliseconds, 0 = no keep-alive
}

func (o Open) encode() []byte {
	d := &Described{Descriptor: codeOpen, Fields: []Value{o.ContainerID, o.Hostname, o.MaxFrameSize, o.IdleTimeout}}
	return encodeValue(nil, d)
}

func decodeOpen(d *Described) (Open, error) {
	f := d.Fields
	if len(f) < 4 {
		return Open{}, fmt.Errorf("amqpengine: open: want 4 fields, got %d", len(f))
	}
	return Open{
		ContainerID:  fieldString(f, 0),
		Hostname:     fieldString(f, 1),
		MaxFrameSize: fieldUint32(f, 2),
		IdleTimeout:  fieldUint32(f, 3),
	}, nil
}

// Begin establishes the single session carried by the connection.
type Begin struct {
	NextOutgoingID uint32
	IncomingWindow uint32
	OutgoingWindow uint32
}

func (b Begin) encode() []byte {
	d := &Described{Descriptor: codeBegin, Fields: []Value{nil, b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow}}
	return encodeValue(nil, d)
}

func decodeBegin(d *Described) (Begin, error) {
	f := d.Fields
	if len(f) < 4 {
		return Begin{}, fmt.Errorf("amqpengine: begin: want 4 fields, got %d", len(f))
	}
	return Begin{
		NextOutgoingID: fieldUint32(f, 1),
		IncomingWindow: fieldUint32(f, 2),
		OutgoingWindow: fieldUint32(f, 3),
	}, nil
}

// Attach establishes one link (sender when Role is false, receiver when
// Role is true). Each connection side attaches exactly two links: one
// sender, one receiver.
type Attach struct {
	Name          string
	Handle        uint32
	Role          bool // false = sender, true = receiver
	SourceAddress string
	TargetAddress string
}

func (a Attach) encode() []byte {
	d := &Described{Descriptor: codeAttach, Fields: []Value{a.Name, a.Handle, a.Role, a.SourceAddress, a.TargetAddress}}
	return encodeValue(nil, d)
}

func decodeAttach(d *Described) (Attach, error) {
	f := d.Fields
	if len(f) < 5 {
		return Attach{}, fmt.Errorf("amqpengine: attach: want 5 fields, got %d", len(f))
	}
	return Attach{
		Name:          fieldString(f, 0),
		Handle:        fieldUint32(f, 1),
		Role:          fieldBool(f, 2),
		SourceAddress: fieldString(f, 3),
		TargetAddress: fieldString(f, 4),
	}, nil
}

// Flow grants or updates link credit on the receiver side.
type Flow struct {
	Handle         uint32
	DeliveryCount  uint32
	LinkCredit     uint32
	IncomingWindow uint32
	OutgoingWindow uint32
}

func (fl Flow) encode() []byte {
	d := &Described{Descriptor: codeFlow, Fields: []Value{
		fl.IncomingWindow, fl.OutgoingWindow, fl.Handle, fl.DeliveryCount, fl.LinkCredit,
	}}
	return encodeValue(nil, d)
}

func decodeFlow(d *Described) (Flow, error) {
	f := d.Fields
	if len(f) < 5 {
		return Flow{}, fmt.Errorf("amqpengine: flow: want 5 fields, got %d", len(f))
	}
	return Flow{
		IncomingWindow: fieldUint32(f, 0),
		OutgoingWindow: fieldUint32(f, 1),
		Handle:         fieldUint32(f, 2),
		DeliveryCount:  fieldUint32(f, 3),
		LinkCredit:     fieldUint32(f, 4),
	}, nil
}

// Transfer carries one application message. Its performative is followed
// in the frame body by the raw message payload — the payload is not part
// of the described list.
type Transfer struct {
	Handle      uint32
	DeliveryID  uint32
	DeliveryTag []byte
	Settled     bool
	More        bool
}

func (t Transfer) encode(payload []byte) []byte {
	d := &Described{Descriptor: codeTransfer, Fields: []Value{
		t.Handle, t.DeliveryID, t.DeliveryTag, t.Settled, t.More,
	}}
	body := encodeValue(nil, d)
	return append(body, payload...)
}

func decodeTransfer(d *Described, payload []byte) (Transfer, []byte, error) {
	f := d.Fields
	if len(f) < 5 {
		return Transfer{}, nil, fmt.Errorf("amqpengine: transfer: want 5 fields, got %d", len(f))
	}
	return Transfer{
		Handle:      fieldUint32(f, 0),
		DeliveryID:  fieldUint32(f, 1),
		DeliveryTag: fieldBytes(f, 2),
		Settled:     fieldBool(f, 3),
		More:        fieldBool(f, 4),
	}, payload, nil
}

// Disposition reports the outcome of one or more deliveries in range
// [First, Last].
type Disposition struct {
	Role     bool // true = receiver reporting, false = sender reporting
	First    uint32
	Last     uint32
	Settled  bool
	Outcome  string // "accepted", "rejected", or "released"
}

func (disp Disposition) encode() []byte {
	d := &Described{Descriptor: codeDisposition, Fields: []Value{
		disp.Role, disp.First, disp.Last, disp.Settled, disp.Outcome,
	}}
	return encodeValue(nil, d)
}

func decodeDisposition(d *Described) (Disposition, error) {
	f := d.Fields
	if len(f) < 5 {
		return Disposition{}, fmt.Errorf("amqpengine: disposition: want 5 fields, got %d", len(f))
	}
	return Disposition{
		Role:    fieldBool(f, 0),
		First:   fieldUint32(f, 1),
		Last:    fieldUint32(f, 2),
		Settled: fieldBool(f, 3),
		Outcome: fieldString(f, 4),
	}, nil
}

// Close ends the connection, optionally carrying an error description.
type Close struct {
	ErrorCondition string
}

func (c Close) encode() []byte {
	d := &Described{Descriptor: codeClose, Fields: []Value{c.ErrorCondition}}
	return encodeValue(nil, d)
}

func decodeClose(d *Described) (Close, error) {
	f := d.Fields
	if len(f) < 1 {
		return Close{}, nil
	}
	return Close{ErrorCondition: fieldString(f, 0)}, nil
}

func fieldBool(f []Value, i int) bool {
	if i >= len(f) {
		return false
	}
	b, _ := f[i].(bool)
	return b
}

func fieldUint32(f []Value, i int) uint32 {
	if i >= len(f) {
		return 0
	}
	switch v := f[i].(type) {
	case uint32:
		return v
	case uint64:
		return uint32(v)
	default:
		return 0
	}
}

func fieldBytes(f []Value, i int) []byte {
	if i >= len(f) {
		return nil
	}
	b, _ := f[i].([]byte)
	return b
}

func fieldString(f []Value, i int) string {
	if i >= len(f) {
		return ""
	}
	switch v := f[i].(type) {
	case string:
		return v
	case Symbol:
		return string(v)
	default:
		return ""
	}
}
