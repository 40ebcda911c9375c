package ldap

import (
	"errors"
	"fmt"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

var (
	ErrMessageID = errors.New("ldap: message id out of range")
	ErrNoOp      = errors.New("ldap: message has no operation")
)

// Message is the LDAPMessage envelope.
type Message struct {
	ID       int32
	Op       Operation
	Controls []Control
}

// Node encodes the envelope. Controls are emitted when non-nil, so an empty
// controls list survives a round trip.
func (m *Message) Node() *encoder.Node {
	n := encoder.Sequence(encoder.Integer(int64(m.ID)))
	if m.Op != nil {
		n.Append(m.Op.Node())
	}
	if m.Controls != nil {
		ctrls := encoder.Constructed(tlv.Context(0))
		for i := range m.Controls {
			ctrls.Append(m.Controls[i].Node())
		}
		n.Append(ctrls)
	}
	return n
}

// Encode returns the wire form of m.
func (m *Message) Encode() ([]byte, error) {
	if m.Op == nil {
		return nil, ErrNoOp
	}
	return encoder.MarshalMessage(m)
}

func (c *Control) Node() *encoder.Node {
	n := encoder.Sequence(encoder.String(tlv.OctetString, c.Type))
	if c.Criticality {
		n.Append(encoder.Boolean(true))
	}
	if c.Value != nil {
		n.Append(encoder.OctetString(c.Value))
	}
	return n
}

const (
	ctStart codec.State = iota
	ctType
	ctCritical
	ctValue
	ctDone
)

var controlGrammar = codec.Lazy(func() *codec.Grammar {
	value := codec.Bytes(func(m *Control) *[]byte { return &m.Value })
	return codec.Register(codec.NewBuilder("ldap.Control", ctStart, func() any { return &Control{} }).
		Label(map[codec.State]string{ctStart: "start", ctType: "control-type", ctCritical: "criticality", ctValue: "control-value", ctDone: "done"}).
		Open(ctStart, tlv.Sequence, ctType).
		Primitive(ctType, tlv.OctetString, ctCritical, codec.String(func(m *Control) *string { return &m.Type })).
		Primitive(ctCritical, tlv.Boolean, ctValue, codec.Bool(func(m *Control) *bool { return &m.Criticality })).
		Primitive(ctCritical, tlv.OctetString, ctDone, value).
		Primitive(ctValue, tlv.OctetString, ctDone, value).
		End(ctCritical, ctValue, ctDone).
		MustBuild())
})

const (
	eStart codec.State = iota
	eID
	eOp
	eAfterOp
	eControl
	eDone
)

// op makes the nested operation's target and installs it on the message.
func op[T any, PT interface {
	*T
	Operation
}]() codec.TransitionOption {
	return codec.EnterWith(codec.Enter(func(m *Message) *T {
		r := PT(new(T))
		m.Op = r
		return r
	}))
}

// nestedOps lists every constructed protocolOp with its grammar and target.
var nestedOps = []struct {
	tag     tlv.Tag
	grammar func() *codec.Grammar
	enter   codec.TransitionOption
}{
	{TagBindRequest, bindRequestGrammar, op[BindRequest]()},
	{TagBindResponse, bindResponseGrammar, op[BindResponse]()},
	{TagSearchRequest, searchRequestGrammar, op[SearchRequest]()},
	{TagSearchResultEntry, searchResultEntryGrammar, op[SearchResultEntry]()},
	{TagSearchResultDone, searchResultDoneGrammar, op[SearchResultDone]()},
	{TagSearchResultReference, searchResultReferenceGrammar, op[SearchResultReference]()},
	{TagModifyRequest, modifyRequestGrammar, op[ModifyRequest]()},
	{TagModifyResponse, modifyResponseGrammar, op[ModifyResponse]()},
	{TagAddRequest, addRequestGrammar, op[AddRequest]()},
	{TagAddResponse, addResponseGrammar, op[AddResponse]()},
	{TagDelResponse, delResponseGrammar, op[DelResponse]()},
	{TagModifyDNRequest, modifyDNRequestGrammar, op[ModifyDNRequest]()},
	{TagModifyDNResponse, modifyDNResponseGrammar, op[ModifyDNResponse]()},
	{TagCompareRequest, compareRequestGrammar, op[CompareRequest]()},
	{TagCompareResponse, compareResponseGrammar, op[CompareResponse]()},
	{TagExtendedRequest, extendedRequestGrammar, op[ExtendedRequest]()},
	{TagExtendedResponse, extendedResponseGrammar, op[ExtendedResponse]()},
	{TagIntermediateResponse, intermediateResponseGrammar, op[IntermediateResponse]()},
}

var messageGrammar = codec.Lazy(func() *codec.Grammar {
	b := codec.NewBuilder("ldap.Message", eStart, func() any { return &Message{} }).
		Label(map[codec.State]string{
			eStart: "start", eID: "message-id", eOp: "protocol-op", eAfterOp: "after-op",
			eControl: "control", eDone: "done",
		}).
		Open(eStart, tlv.Sequence, eID).
		Primitive(eID, tlv.Integer, eOp, codec.Set(func(m *Message, v []byte) error {
			n, err := tlv.ParseInt32(v)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("%w: %d", ErrMessageID, n)
			}
			m.ID = n
			return nil
		})).
		Primitive(eOp, TagUnbindRequest, eAfterOp, codec.Set(func(m *Message, v []byte) error {
			m.Op = &UnbindRequest{}
			return tlv.ParseNull(v)
		})).
		Primitive(eOp, TagDelRequest, eAfterOp, codec.Set(func(m *Message, v []byte) error {
			m.Op = &DelRequest{DN: string(v)}
			return nil
		})).
		Primitive(eOp, TagAbandonRequest, eAfterOp, codec.Set(func(m *Message, v []byte) error {
			n, err := tlv.ParseInt32(v)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("%w: %d", ErrMessageID, n)
			}
			m.Op = &AbandonRequest{MessageID: n}
			return nil
		})).
		Open(eAfterOp, tlv.Context(0), eControl, codec.CloseTo(eDone), codec.OnOpen(codec.Touch(func(m *Message) {
			m.Controls = []Control{}
		}))).
		Nest(eControl, tlv.Sequence, eControl, controlGrammar, codec.ExitWith(codec.Exit(func(m *Message, c *Control) error {
			m.Controls = append(m.Controls, *c)
			return nil
		}))).
		End(eAfterOp, eDone)

	for _, o := range nestedOps {
		b.Nest(eOp, o.tag, eAfterOp, o.grammar, o.enter)
	}
	return codec.Register(b.MustBuild())
})

// Grammar returns the LDAPMessage grammar every directory connection uses.
func Grammar() *codec.Grammar {
	return messageGrammar()
}

// Grammars builds and registers every LDAP grammar, so a malformed table
// fails at startup rather than on first use.
func Grammars() []*codec.Grammar {
	out := []*codec.Grammar{messageGrammar(), controlGrammar(), FilterGrammar(), attributeGrammar(), changeGrammar()}
	for _, o := range nestedOps {
		out = append(out, o.grammar())
	}
	return out
}

// NewSession returns a streaming decode session for one connection.
func NewSession(opts ...codec.Option) *codec.Session {
	return codec.NewSession(messageGrammar(), opts...)
}

// Decode decodes exactly one LDAPMessage.
func Decode(b []byte, opts ...codec.Option) (*Message, error) {
	v, err := codec.Decode(messageGrammar(), b, opts...)
	if err != nil {
		return nil, err
	}
	return v.(*Message), nil
}

func (*UnbindRequest) Node() *encoder.Node {
	return encoder.Primitive(TagUnbindRequest, nil)
}

func (m *DelRequest) Node() *encoder.Node {
	return encoder.String(TagDelRequest, m.DN)
}

func (m *AbandonRequest) Node() *encoder.Node {
	return encoder.Int(TagAbandonRequest, int64(m.MessageID))
}

// NoticeOfDisconnection is the unsolicited notification sent before a server
// closes a connection it can no longer decode.
func NoticeOfDisconnection(code ResultCode, diagnostic string) *Message {
	return &Message{
		ID: 0,
		Op: &ExtendedResponse{
			Result:  Result{Code: code, Diagnostic: diagnostic},
			Name:    NoticeOfDisconnectionOID,
			HasName: true,
		},
	}
}
