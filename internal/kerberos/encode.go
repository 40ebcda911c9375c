package kerberos

import (
	"time"

	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

func kstring(s string) *encoder.Node {
	return encoder.String(tlv.GeneralString, s)
}

func int32Node(n int32) *encoder.Node {
	return encoder.Integer(int64(n))
}

// optTime returns nil for the zero time so the field is omitted.
func optTime(t time.Time) *encoder.Node {
	if t.IsZero() {
		return nil
	}
	return encoder.GeneralizedTime(t)
}

func optString(s string) *encoder.Node {
	if s == "" {
		return nil
	}
	return kstring(s)
}

func optBytes(b []byte) *encoder.Node {
	if b == nil {
		return nil
	}
	return encoder.OctetString(b)
}

// header is the pvno and msg-type pair that opens every message, starting at
// field number first.
func header(first int, mt int32) []*encoder.Node {
	return []*encoder.Node{
		encoder.Explicit(first, encoder.Integer(PVNO)),
		encoder.Explicit(first+1, int32Node(mt)),
	}
}

func app(tag tlv.Tag, fields ...*encoder.Node) *encoder.Node {
	return encoder.Constructed(tag, encoder.Sequence(fields...))
}

func paDataNode(pa []PAData) *encoder.Node {
	if pa == nil {
		return nil
	}
	seq := encoder.Sequence()
	for i := range pa {
		seq.Append(pa[i].Node())
	}
	return seq
}

func (p *PrincipalName) Node() *encoder.Node {
	names := encoder.Sequence()
	for _, s := range p.NameString {
		names.Append(kstring(s))
	}
	return encoder.Sequence(
		encoder.Explicit(0, int32Node(p.NameType)),
		encoder.Explicit(1, names),
	)
}

func (e *EncryptedData) Node() *encoder.Node {
	var kvno *encoder.Node
	if e.HasKVNO {
		kvno = encoder.Integer(int64(e.KVNO))
	}
	return encoder.Sequence(
		encoder.Explicit(0, int32Node(e.EType)),
		encoder.Explicit(1, kvno),
		encoder.Explicit(2, encoder.OctetString(e.Cipher)),
	)
}

func (a *HostAddress) Node() *encoder.Node {
	return encoder.Sequence(
		encoder.Explicit(0, int32Node(a.AddrType)),
		encoder.Explicit(1, encoder.OctetString(a.Address)),
	)
}

func (p *PAData) Node() *encoder.Node {
	return encoder.Sequence(
		encoder.Explicit(1, int32Node(p.Type)),
		encoder.Explicit(2, encoder.OctetString(p.Value)),
	)
}

func (t *Ticket) Node() *encoder.Node {
	return app(TagTicket,
		encoder.Explicit(0, encoder.Integer(PVNO)),
		encoder.Explicit(1, kstring(t.Realm)),
		encoder.Explicit(2, t.SName.Node()),
		encoder.Explicit(3, t.EncPart.Node()),
	)
}

func (b *KDCReqBody) Node() *encoder.Node {
	var cname, sname, authData, addrs, tickets *encoder.Node
	if b.CName != nil {
		cname = b.CName.Node()
	}
	if b.SName != nil {
		sname = b.SName.Node()
	}
	if b.EncAuthData != nil {
		authData = b.EncAuthData.Node()
	}
	if b.Addresses != nil {
		addrs = encoder.Sequence()
		for i := range b.Addresses {
			addrs.Append(b.Addresses[i].Node())
		}
	}
	if b.AdditionalTickets != nil {
		tickets = encoder.Sequence()
		for i := range b.AdditionalTickets {
			tickets.Append(b.AdditionalTickets[i].Node())
		}
	}
	etypes := encoder.Sequence()
	for _, e := range b.ETypes {
		etypes.Append(int32Node(e))
	}
	return encoder.Sequence(
		encoder.Explicit(0, encoder.BitString(b.Options)),
		encoder.Explicit(1, cname),
		encoder.Explicit(2, kstring(b.Realm)),
		encoder.Explicit(3, sname),
		encoder.Explicit(4, optTime(b.From)),
		encoder.Explicit(5, encoder.GeneralizedTime(b.Till)),
		encoder.Explicit(6, optTime(b.RTime)),
		encoder.Explicit(7, encoder.Integer(int64(b.Nonce))),
		encoder.Explicit(8, etypes),
		encoder.Explicit(9, addrs),
		encoder.Explicit(10, authData),
		encoder.Explicit(11, tickets),
	)
}

func (r *KDCReq) node(tag tlv.Tag, mt int32) *encoder.Node {
	fields := header(1, mt)
	fields = append(fields,
		encoder.Explicit(3, paDataNode(r.PAData)),
		encoder.Explicit(4, r.Body.Node()),
	)
	return app(tag, fields...)
}

func (r *KDCRep) node(tag tlv.Tag, mt int32) *encoder.Node {
	fields := header(0, mt)
	fields = append(fields,
		encoder.Explicit(2, paDataNode(r.PAData)),
		encoder.Explicit(3, kstring(r.CRealm)),
		encoder.Explicit(4, r.CName.Node()),
		encoder.Explicit(5, r.Ticket.Node()),
		encoder.Explicit(6, r.EncPart.Node()),
	)
	return app(tag, fields...)
}

func (m *ASReq) Node() *encoder.Node  { return m.KDCReq.node(TagASReq, MsgTypeASReq) }
func (m *TGSReq) Node() *encoder.Node { return m.KDCReq.node(TagTGSReq, MsgTypeTGSReq) }
func (m *ASRep) Node() *encoder.Node  { return m.KDCRep.node(TagASRep, MsgTypeASRep) }
func (m *TGSRep) Node() *encoder.Node { return m.KDCRep.node(TagTGSRep, MsgTypeTGSRep) }

func (m *APReq) Node() *encoder.Node {
	fields := header(0, MsgTypeAPReq)
	fields = append(fields,
		encoder.Explicit(2, encoder.BitString(m.Options)),
		encoder.Explicit(3, m.Ticket.Node()),
		encoder.Explicit(4, m.Authenticator.Node()),
	)
	return app(TagAPReq, fields...)
}

func (m *APRep) Node() *encoder.Node {
	fields := append(header(0, MsgTypeAPRep), encoder.Explicit(2, m.EncPart.Node()))
	return app(TagAPRep, fields...)
}

func (m *KRBError) Node() *encoder.Node {
	var cusec, cname *encoder.Node
	if !m.CTime.IsZero() {
		cusec = int32Node(m.CUsec)
	}
	if m.CName != nil {
		cname = m.CName.Node()
	}
	fields := header(0, MsgTypeKRBError)
	fields = append(fields,
		encoder.Explicit(2, optTime(m.CTime)),
		encoder.Explicit(3, cusec),
		encoder.Explicit(4, encoder.GeneralizedTime(m.STime)),
		encoder.Explicit(5, int32Node(m.SUsec)),
		encoder.Explicit(6, int32Node(int32(m.ErrorCode))),
		encoder.Explicit(7, optString(m.CRealm)),
		encoder.Explicit(8, cname),
		encoder.Explicit(9, kstring(m.Realm)),
		encoder.Explicit(10, m.SName.Node()),
		encoder.Explicit(11, optString(m.EText)),
		encoder.Explicit(12, optBytes(m.EData)),
	)
	return app(TagKRBError, fields...)
}

// NewError builds a KRB-ERROR stamped with server time now, split into whole
// seconds and microseconds.
func NewError(code ErrorCode, realm string, sname PrincipalName, now time.Time, text string) *KRBError {
	now = now.UTC()
	return &KRBError{
		STime:     now.Truncate(time.Second),
		SUsec:     int32(now.Nanosecond() / int(time.Microsecond)),
		ErrorCode: code,
		Realm:     realm,
		SName:     sname,
		EText:     text,
	}
}
