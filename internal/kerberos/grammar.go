package kerberos

import (
	"fmt"
	"time"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// Every Kerberos grammar opens an optional APPLICATION tag and then a
// SEQUENCE whose body starts in stBody.
const (
	stStart codec.State = iota
	stApp
	stBody
)

var frameStates = map[codec.State]string{stStart: "start", stApp: "application", stBody: "body"}

// seqBuilder starts a grammar for a bare SEQUENCE.
func seqBuilder(name string, newFn func() any) *codec.Builder {
	return codec.NewBuilder(name, stStart, newFn).
		Label(frameStates).
		Open(stStart, tlv.Sequence, stBody)
}

// appBuilder starts a grammar for [APPLICATION n] SEQUENCE.
func appBuilder(name string, tag tlv.Tag, newFn func() any) *codec.Builder {
	return codec.NewBuilder(name, stStart, newFn).
		Label(frameStates).
		Open(stStart, tag, stApp, codec.Single(), codec.Required()).
		Open(stApp, tlv.Sequence, stBody)
}

var principalNameGrammar = codec.Lazy(func() *codec.Grammar {
	b := seqBuilder("kerberos.PrincipalName", func() any { return &PrincipalName{} })
	sequence(b, stBody,
		prim("name-type", 0, tlv.Integer, codec.Int32(func(m *PrincipalName) *int32 { return &m.NameType })),
		list("name-string", 1, codec.Touch(func(m *PrincipalName) { m.NameString = []string{} }),
			func(b *codec.Builder, item codec.State) {
				b.Primitive(item, tlv.GeneralString, item,
					codec.AppendString(func(m *PrincipalName) *[]string { return &m.NameString }))
			}),
	)
	return codec.Register(b.MustBuild())
})

var encryptedDataGrammar = codec.Lazy(func() *codec.Grammar {
	b := seqBuilder("kerberos.EncryptedData", func() any { return &EncryptedData{} })
	sequence(b, stBody,
		prim("etype", 0, tlv.Integer, codec.Int32(func(m *EncryptedData) *int32 { return &m.EType })),
		prim("kvno", 1, tlv.Integer, codec.Set(func(m *EncryptedData, v []byte) error {
			n, err := tlv.ParseUint32(v)
			m.KVNO, m.HasKVNO = n, true
			return err
		})).opt(),
		prim("cipher", 2, tlv.OctetString, codec.Bytes(func(m *EncryptedData) *[]byte { return &m.Cipher })),
	)
	return codec.Register(b.MustBuild())
})

var hostAddressGrammar = codec.Lazy(func() *codec.Grammar {
	b := seqBuilder("kerberos.HostAddress", func() any { return &HostAddress{} })
	sequence(b, stBody,
		prim("addr-type", 0, tlv.Integer, codec.Int32(func(m *HostAddress) *int32 { return &m.AddrType })),
		prim("address", 1, tlv.OctetString, codec.Bytes(func(m *HostAddress) *[]byte { return &m.Address })),
	)
	return codec.Register(b.MustBuild())
})

var paDataGrammar = codec.Lazy(func() *codec.Grammar {
	b := seqBuilder("kerberos.PAData", func() any { return &PAData{} })
	sequence(b, stBody,
		prim("padata-type", 1, tlv.Integer, codec.Int32(func(m *PAData) *int32 { return &m.Type })),
		prim("padata-value", 2, tlv.OctetString, codec.Bytes(func(m *PAData) *[]byte { return &m.Value })),
	)
	return codec.Register(b.MustBuild())
})

var ticketGrammar = codec.Lazy(func() *codec.Grammar {
	b := appBuilder("kerberos.Ticket", TagTicket, func() any { return &Ticket{} })
	sequence(b, stBody,
		prim("tkt-vno", 0, tlv.Integer, pvno),
		prim("realm", 1, tlv.GeneralString, codec.String(func(m *Ticket) *string { return &m.Realm })),
		nest("sname", 2, tlv.Sequence, principalNameGrammar,
			codec.EnterWith(codec.Enter(func(m *Ticket) *PrincipalName { return &m.SName }))),
		nest("enc-part", 3, tlv.Sequence, encryptedDataGrammar,
			codec.EnterWith(codec.Enter(func(m *Ticket) *EncryptedData { return &m.EncPart }))),
	)
	return codec.Register(b.MustBuild())
})

// paDataList is the padata SEQUENCE OF PA-DATA field of requests and replies.
func paDataList[T any](n int, at func(m *T) *[]PAData) field {
	return list("padata", n, codec.Touch(func(m *T) { *at(m) = []PAData{} }),
		func(b *codec.Builder, item codec.State) {
			b.Nest(item, tlv.Sequence, item, paDataGrammar, codec.ExitWith(codec.Exit(func(m *T, pa *PAData) error {
				*at(m) = append(*at(m), *pa)
				return nil
			})))
		}).opt()
}

// ticketField decodes a Ticket into the field returned by at.
func ticketField[T any](name string, n int, at func(m *T) *Ticket) field {
	return nest(name, n, TagTicket, ticketGrammar, codec.EnterWith(codec.Enter(at)))
}

func encryptedField[T any](name string, n int, at func(m *T) *EncryptedData) field {
	return nest(name, n, tlv.Sequence, encryptedDataGrammar, codec.EnterWith(codec.Enter(at)))
}

func principalField[T any](name string, n int, at func(m *T) *PrincipalName) field {
	return nest(name, n, tlv.Sequence, principalNameGrammar, codec.EnterWith(codec.Enter(at)))
}

var kdcReqBodyGrammar = codec.Lazy(func() *codec.Grammar {
	b := seqBuilder("kerberos.KDCReqBody", func() any { return &KDCReqBody{} })
	sequence(b, stBody,
		prim("kdc-options", 0, tlv.BitStringTag, codec.Bits(func(m *KDCReqBody) *tlv.BitString { return &m.Options })),
		principalField("cname", 1, func(m *KDCReqBody) *PrincipalName {
			m.CName = &PrincipalName{}
			return m.CName
		}).opt(),
		prim("realm", 2, tlv.GeneralString, codec.String(func(m *KDCReqBody) *string { return &m.Realm })),
		principalField("sname", 3, func(m *KDCReqBody) *PrincipalName {
			m.SName = &PrincipalName{}
			return m.SName
		}).opt(),
		prim("from", 4, tlv.GeneralizedTime, codec.Time(func(m *KDCReqBody) *time.Time { return &m.From })).opt(),
		prim("till", 5, tlv.GeneralizedTime, codec.Time(func(m *KDCReqBody) *time.Time { return &m.Till })),
		prim("rtime", 6, tlv.GeneralizedTime, codec.Time(func(m *KDCReqBody) *time.Time { return &m.RTime })).opt(),
		prim("nonce", 7, tlv.Integer, codec.Uint32(func(m *KDCReqBody) *uint32 { return &m.Nonce })),
		list("etype", 8, codec.Touch(func(m *KDCReqBody) { m.ETypes = []int32{} }),
			func(b *codec.Builder, item codec.State) {
				b.Primitive(item, tlv.Integer, item, codec.AppendInt32(func(m *KDCReqBody) *[]int32 { return &m.ETypes }))
			}),
		list("addresses", 9, codec.Touch(func(m *KDCReqBody) { m.Addresses = []HostAddress{} }),
			func(b *codec.Builder, item codec.State) {
				b.Nest(item, tlv.Sequence, item, hostAddressGrammar,
					codec.ExitWith(codec.Exit(func(m *KDCReqBody, a *HostAddress) error {
						m.Addresses = append(m.Addresses, *a)
						return nil
					})))
			}).opt(),
		encryptedField("enc-authorization-data", 10, func(m *KDCReqBody) *EncryptedData {
			m.EncAuthData = &EncryptedData{}
			return m.EncAuthData
		}).opt(),
		list("additional-tickets", 11, codec.Touch(func(m *KDCReqBody) { m.AdditionalTickets = []Ticket{} }),
			func(b *codec.Builder, item codec.State) {
				b.Nest(item, TagTicket, item, ticketGrammar,
					codec.ExitWith(codec.Exit(func(m *KDCReqBody, t *Ticket) error {
						m.AdditionalTickets = append(m.AdditionalTickets, *t)
						return nil
					})))
			}).opt(),
	)
	return codec.Register(b.MustBuild())
})

func kdcReqGrammar[T any](name string, tag tlv.Tag, mt int32, req func(m *T) *KDCReq) func() *codec.Grammar {
	return codec.Lazy(func() *codec.Grammar {
		b := appBuilder(name, tag, func() any { return new(T) })
		sequence(b, stBody,
			prim("pvno", 1, tlv.Integer, pvno),
			prim("msg-type", 2, tlv.Integer, msgType(mt)),
			paDataList(3, func(m *T) *[]PAData { return &req(m).PAData }),
			nest("req-body", 4, tlv.Sequence, kdcReqBodyGrammar,
				codec.EnterWith(codec.Enter(func(m *T) *KDCReqBody { return &req(m).Body }))),
		)
		return codec.Register(b.MustBuild())
	})
}

func kdcRepGrammar[T any](name string, tag tlv.Tag, mt int32, rep func(m *T) *KDCRep) func() *codec.Grammar {
	return codec.Lazy(func() *codec.Grammar {
		b := appBuilder(name, tag, func() any { return new(T) })
		sequence(b, stBody,
			prim("pvno", 0, tlv.Integer, pvno),
			prim("msg-type", 1, tlv.Integer, msgType(mt)),
			paDataList(2, func(m *T) *[]PAData { return &rep(m).PAData }),
			prim("crealm", 3, tlv.GeneralString, codec.String(func(m *T) *string { return &rep(m).CRealm })),
			principalField("cname", 4, func(m *T) *PrincipalName { return &rep(m).CName }),
			ticketField("ticket", 5, func(m *T) *Ticket { return &rep(m).Ticket }),
			encryptedField("enc-part", 6, func(m *T) *EncryptedData { return &rep(m).EncPart }),
		)
		return codec.Register(b.MustBuild())
	})
}

var (
	asReqGrammar  = kdcReqGrammar("kerberos.ASReq", TagASReq, MsgTypeASReq, func(m *ASReq) *KDCReq { return &m.KDCReq })
	tgsReqGrammar = kdcReqGrammar("kerberos.TGSReq", TagTGSReq, MsgTypeTGSReq, func(m *TGSReq) *KDCReq { return &m.KDCReq })
	asRepGrammar  = kdcRepGrammar("kerberos.ASRep", TagASRep, MsgTypeASRep, func(m *ASRep) *KDCRep { return &m.KDCRep })
	tgsRepGrammar = kdcRepGrammar("kerberos.TGSRep", TagTGSRep, MsgTypeTGSRep, func(m *TGSRep) *KDCRep { return &m.KDCRep })
)

var apReqGrammar = codec.Lazy(func() *codec.Grammar {
	b := appBuilder("kerberos.APReq", TagAPReq, func() any { return &APReq{} })
	sequence(b, stBody,
		prim("pvno", 0, tlv.Integer, pvno),
		prim("msg-type", 1, tlv.Integer, msgType(MsgTypeAPReq)),
		prim("ap-options", 2, tlv.BitStringTag, codec.Bits(func(m *APReq) *tlv.BitString { return &m.Options })),
		ticketField("ticket", 3, func(m *APReq) *Ticket { return &m.Ticket }),
		encryptedField("authenticator", 4, func(m *APReq) *EncryptedData { return &m.Authenticator }),
	)
	return codec.Register(b.MustBuild())
})

var apRepGrammar = codec.Lazy(func() *codec.Grammar {
	b := appBuilder("kerberos.APRep", TagAPRep, func() any { return &APRep{} })
	sequence(b, stBody,
		prim("pvno", 0, tlv.Integer, pvno),
		prim("msg-type", 1, tlv.Integer, msgType(MsgTypeAPRep)),
		encryptedField("enc-part", 2, func(m *APRep) *EncryptedData { return &m.EncPart }),
	)
	return codec.Register(b.MustBuild())
})

var krbErrorGrammar = codec.Lazy(func() *codec.Grammar {
	b := appBuilder("kerberos.KRBError", TagKRBError, func() any { return &KRBError{} })
	sequence(b, stBody,
		prim("pvno", 0, tlv.Integer, pvno),
		prim("msg-type", 1, tlv.Integer, msgType(MsgTypeKRBError)),
		prim("ctime", 2, tlv.GeneralizedTime, codec.Time(func(m *KRBError) *time.Time { return &m.CTime })).opt(),
		prim("cusec", 3, tlv.Integer, codec.Int32(func(m *KRBError) *int32 { return &m.CUsec })).opt(),
		prim("stime", 4, tlv.GeneralizedTime, codec.Time(func(m *KRBError) *time.Time { return &m.STime })),
		prim("susec", 5, tlv.Integer, codec.Int32(func(m *KRBError) *int32 { return &m.SUsec })),
		prim("error-code", 6, tlv.Integer, codec.Set(func(m *KRBError, v []byte) error {
			n, err := tlv.ParseInt32(v)
			m.ErrorCode = ErrorCode(n)
			return err
		})),
		prim("crealm", 7, tlv.GeneralString, codec.String(func(m *KRBError) *string { return &m.CRealm })).opt(),
		principalField("cname", 8, func(m *KRBError) *PrincipalName {
			m.CName = &PrincipalName{}
			return m.CName
		}).opt(),
		prim("realm", 9, tlv.GeneralString, codec.String(func(m *KRBError) *string { return &m.Realm })),
		principalField("sname", 10, func(m *KRBError) *PrincipalName { return &m.SName }),
		prim("e-text", 11, tlv.GeneralString, codec.String(func(m *KRBError) *string { return &m.EText })).opt(),
		prim("e-data", 12, tlv.OctetString, codec.Bytes(func(m *KRBError) *[]byte { return &m.EData })).opt(),
	)
	return codec.Register(b.MustBuild())
})

// messages maps each top-level application tag to its grammar.
var messages = []struct {
	tag     tlv.Tag
	grammar func() *codec.Grammar
}{
	{TagASReq, asReqGrammar},
	{TagASRep, asRepGrammar},
	{TagTGSReq, tgsReqGrammar},
	{TagTGSRep, tgsRepGrammar},
	{TagAPReq, apReqGrammar},
	{TagAPRep, apRepGrammar},
	{TagKRBError, krbErrorGrammar},
}

// envelope collects whichever message the choice grammar decoded.
type envelope struct {
	msg Message
}

const (
	mStart codec.State = iota
	mDone
)

var messageGrammar = codec.Lazy(func() *codec.Grammar {
	b := codec.NewBuilder("kerberos.Message", mStart, func() any { return &envelope{} }).
		Label(map[codec.State]string{mStart: "start", mDone: "done"}).
		End(mDone).
		Finish(func(v any) (any, error) {
			return v.(*envelope).msg, nil
		})
	exit := codec.ExitWith(func(parent, child any) error {
		env, ok := parent.(*envelope)
		if !ok {
			return fmt.Errorf("%w: have %T, want *envelope", codec.ErrTargetType, parent)
		}
		msg, ok := child.(Message)
		if !ok {
			return fmt.Errorf("%w: %T is not a kerberos message", codec.ErrTargetType, child)
		}
		env.msg = msg
		return nil
	})
	for _, m := range messages {
		b.Nest(mStart, m.tag, mDone, m.grammar, exit)
	}
	return codec.Register(b.MustBuild())
})

// Grammar decodes any top-level Kerberos message, choosing on its
// application tag.
func Grammar() *codec.Grammar {
	return messageGrammar()
}

// Grammars builds and registers every Kerberos grammar.
func Grammars() []*codec.Grammar {
	out := []*codec.Grammar{
		messageGrammar(), principalNameGrammar(), encryptedDataGrammar(), hostAddressGrammar(),
		paDataGrammar(), ticketGrammar(), kdcReqBodyGrammar(),
	}
	for _, m := range messages {
		out = append(out, m.grammar())
	}
	return out
}

// NewSession returns a decode session for a Kerberos stream. TCP callers
// wrap it in frame.NewSession instead.
func NewSession(opts ...codec.Option) *codec.Session {
	return codec.NewSession(messageGrammar(), opts...)
}

// Decode decodes one message, such as a UDP datagram or a TCP frame payload.
func Decode(b []byte, opts ...codec.Option) (Message, error) {
	v, err := codec.Decode(messageGrammar(), b, opts...)
	if err != nil {
		return nil, err
	}
	return v.(Message), nil
}
