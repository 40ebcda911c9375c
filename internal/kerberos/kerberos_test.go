package kerberos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/frame"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
	"github.com/danmuck/dirauth/internal/testutil/testlog"
)

var (
	realm   = "EXAMPLE.COM"
	krbtgt  = PrincipalName{NameType: NTSrvInst, NameString: []string{"krbtgt", "EXAMPLE.COM"}}
	alice   = PrincipalName{NameType: NTPrincipal, NameString: []string{"alice"}}
	till    = time.Date(2037, 9, 13, 2, 48, 5, 0, time.UTC)
	options = tlv.BitString{Bytes: []byte{0x40, 0x81, 0x00, 0x10}, BitLength: 32}
)

func sampleTicket() Ticket {
	return Ticket{
		Realm:   realm,
		SName:   krbtgt,
		EncPart: EncryptedData{EType: 18, KVNO: 2, HasKVNO: true, Cipher: []byte{0xde, 0xad, 0xbe, 0xef}},
	}
}

func sampleASReq() *ASReq {
	cname := alice
	sname := krbtgt
	return &ASReq{KDCReq{
		PAData: []PAData{{Type: 128, Value: []byte{0x30, 0x05, 0xa0, 0x03, 0x01, 0x01, 0xff}}},
		Body: KDCReqBody{
			Options: options,
			CName:   &cname,
			Realm:   realm,
			SName:   &sname,
			Till:    till,
			RTime:   till,
			Nonce:   0xdeadbeef,
			ETypes:  []int32{18, 17, 23},
		},
	}}
}

func sampleMessages() []Message {
	ticket := sampleTicket()
	enc := EncryptedData{EType: 18, Cipher: []byte("sealed")}
	cname := alice
	return []Message{
		sampleASReq(),
		&TGSReq{KDCReq{
			PAData: []PAData{{Type: 1, Value: []byte("ap-req")}},
			Body: KDCReqBody{
				Options:           options,
				Realm:             realm,
				SName:             &PrincipalName{NameType: NTSrvHst, NameString: []string{"ldap", "dc1.example.com"}},
				From:              till.Add(-time.Hour),
				Till:              till,
				Nonce:             7,
				ETypes:            []int32{18},
				Addresses:         []HostAddress{{AddrType: 2, Address: []byte{10, 0, 0, 1}}},
				EncAuthData:       &EncryptedData{EType: 17, Cipher: []byte{1}},
				AdditionalTickets: []Ticket{ticket, ticket},
			},
		}},
		&ASRep{KDCRep{CRealm: realm, CName: alice, Ticket: ticket, EncPart: enc}},
		&TGSRep{KDCRep{PAData: []PAData{}, CRealm: realm, CName: alice, Ticket: ticket, EncPart: enc}},
		&APReq{Options: tlv.BitString{Bytes: []byte{0x20, 0, 0, 0}, BitLength: 32}, Ticket: ticket, Authenticator: enc},
		&APRep{EncPart: enc},
		&KRBError{STime: till, SUsec: 12, ErrorCode: KDCErrSvcUnavailable, Realm: realm, SName: krbtgt},
		&KRBError{
			CTime: till, CUsec: 99, STime: till, SUsec: 1, ErrorCode: KDCErrPreauthRequired,
			CRealm: realm, CName: &cname, Realm: realm, SName: krbtgt,
			EText: "pre-authentication required", EData: []byte{0x30, 0x00},
		},
	}
}

func TestRoundTripEveryMessage(t *testing.T) {
	testlog.Start(t)

	for _, m := range sampleMessages() {
		wire, err := encoder.MarshalMessage(m)
		require.NoError(t, err)

		got, err := Decode(wire)
		require.NoError(t, err, "msg-type %d", m.MsgType())
		require.Equal(t, m, got)

		again, err := encoder.MarshalMessage(got)
		require.NoError(t, err)
		require.Equal(t, wire, again)
	}
}

func TestFramedASReqEveryChunking(t *testing.T) {
	testlog.Start(t)

	payload, err := encoder.MarshalMessage(sampleASReq())
	require.NoError(t, err)
	full := frame.AppendHeader(nil, uint32(len(payload)))
	full = append(full, payload...)

	s := frame.NewSession(Grammar(), frame.DefaultLimits())
	for i := 1; i < len(full); i++ {
		res := s.Feed(full[:i])
		require.Equal(t, codec.NeedMoreInput, res.Status, "split %d", i)
		res = s.Feed(full[i:])
		require.Equal(t, codec.Complete, res.Status, "split %d: %v", i, res.Err)
		require.Equal(t, sampleASReq(), res.Message)
		require.Equal(t, len(full), res.Consumed)
	}

	for i := 0; i < len(full)-1; i++ {
		require.Equal(t, codec.NeedMoreInput, s.Feed(full[i:i+1]).Status)
	}
	res := s.Feed(full[len(full)-1:])
	require.True(t, res.Done())
}

func TestStreamSessionDecodesUnframed(t *testing.T) {
	testlog.Start(t)

	var stream []byte
	msgs := sampleMessages()
	for _, m := range msgs {
		wire, err := encoder.MarshalMessage(m)
		require.NoError(t, err)
		stream = append(stream, wire...)
	}

	s := NewSession()
	res := s.Feed(stream)
	var got []Message
	for res.Done() {
		got = append(got, res.Message.(Message))
		res = s.Drain()
	}
	require.Equal(t, codec.NeedMoreInput, res.Status)
	require.Equal(t, msgs, got)
}

// rawAPRep builds an AP-REP with caller-chosen pvno and msg-type fields.
func rawAPRep(pvno, mt int64, extra ...*encoder.Node) []byte {
	enc := (&EncryptedData{EType: 1, Cipher: []byte{1}}).Node()
	fields := []*encoder.Node{
		encoder.Explicit(0, encoder.Integer(pvno)),
		encoder.Explicit(1, encoder.Integer(mt)),
		encoder.Explicit(2, enc),
	}
	b, err := encoder.Marshal(encoder.Constructed(TagAPRep, encoder.Sequence(append(fields, extra...)...)))
	if err != nil {
		panic(err)
	}
	return b
}

func TestRejectsInvalidMessages(t *testing.T) {
	testlog.Start(t)

	doubled, err := encoder.Marshal(encoder.Constructed(TagAPRep, encoder.Sequence(
		encoder.Constructed(tlv.Context(0), encoder.Integer(5), encoder.Integer(5)),
	)))
	require.NoError(t, err)

	emptyField, err := encoder.Marshal(encoder.Constructed(TagAPRep, encoder.Sequence(
		encoder.Constructed(tlv.Context(0)),
	)))
	require.NoError(t, err)

	// A request body without its [5] till field.
	body := encoder.Sequence(
		encoder.Explicit(0, encoder.BitString(options)),
		encoder.Explicit(2, kstring(realm)),
		encoder.Explicit(7, encoder.Integer(1)),
		encoder.Explicit(8, encoder.Sequence(encoder.Integer(18))),
	)
	noTill, err := encoder.Marshal(encoder.Constructed(TagASReq, encoder.Sequence(
		encoder.Explicit(1, encoder.Integer(PVNO)),
		encoder.Explicit(2, encoder.Integer(int64(MsgTypeASReq))),
		encoder.Explicit(4, body),
	)))
	require.NoError(t, err)

	appNoSeq, err := encoder.Marshal(encoder.Constructed(TagAPRep))
	require.NoError(t, err)

	unknownApp, err := encoder.Marshal(encoder.Constructed(tlv.Application(20)))
	require.NoError(t, err)

	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{"wrong pvno", rawAPRep(4, int64(MsgTypeAPRep)), ErrPVNO},
		{"msg-type mismatch", rawAPRep(PVNO, int64(MsgTypeASRep)), ErrMsgType},
		{"field after last", rawAPRep(PVNO, int64(MsgTypeAPRep), encoder.Explicit(3, encoder.Integer(0))), codec.ErrUnexpectedTag},
		{"two values in one explicit tag", doubled, codec.ErrExtraElement},
		{"empty explicit tag", emptyField, codec.ErrEmptyValue},
		{"missing mandatory field", noTill, codec.ErrUnexpectedTag},
		{"empty application tag", appNoSeq, codec.ErrEmptyValue},
		{"unknown application tag", unknownApp, codec.ErrUnexpectedTag},
		{"bad time", func() []byte {
			b, _ := encoder.Marshal(encoder.Constructed(TagKRBError, encoder.Sequence(
				encoder.Explicit(0, encoder.Integer(PVNO)),
				encoder.Explicit(1, encoder.Integer(int64(MsgTypeKRBError))),
				encoder.Explicit(4, encoder.String(tlv.GeneralizedTime, "2037-09-13")),
			)))
			return b
		}(), tlv.ErrInvalidTime},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPrematureEndInsideSubStructure(t *testing.T) {
	testlog.Start(t)

	// EncryptedData without its cipher.
	b, err := encoder.Marshal(encoder.Constructed(TagAPRep, encoder.Sequence(
		encoder.Explicit(0, encoder.Integer(PVNO)),
		encoder.Explicit(1, encoder.Integer(int64(MsgTypeAPRep))),
		encoder.Explicit(2, encoder.Sequence(encoder.Explicit(0, encoder.Integer(18)))),
	)))
	require.NoError(t, err)

	_, err = Decode(b)
	require.ErrorIs(t, err, codec.ErrPrematureEnd)
	var de *codec.DecodeError
	require.ErrorAs(t, err, &de)
	require.Equal(t, "kerberos.EncryptedData", de.Grammar)
	require.Equal(t, codec.KindGrammar, de.Kind)
}

func TestNewError(t *testing.T) {
	testlog.Start(t)

	now := time.Date(2026, 10, 19, 8, 30, 0, 123456789, time.FixedZone("x", 3600))
	e := NewError(KDCErrSvcUnavailable, realm, krbtgt, now, "unavailable")
	require.Equal(t, time.Date(2026, 10, 19, 7, 30, 0, 0, time.UTC), e.STime)
	require.Equal(t, int32(123456), e.SUsec)

	wire, err := encoder.MarshalMessage(e)
	require.NoError(t, err)
	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, e, got)
	require.Equal(t, "KDC_ERR_SVC_UNAVAILABLE", got.(*KRBError).ErrorCode.String())
	require.Equal(t, "errorCode(999)", ErrorCode(999).String())
}

func TestGrammarsRegistered(t *testing.T) {
	testlog.Start(t)

	for _, g := range Grammars() {
		reg, ok := codec.Registered(g.Name())
		require.True(t, ok, g.Name())
		require.Same(t, g, reg)
	}
	require.Equal(t, "kerberos.Message", Grammar().Name())
}

func TestZeroOptionsEncode(t *testing.T) {
	testlog.Start(t)

	req := sampleASReq()
	req.Body.Options = tlv.BitString{BitLength: 32}
	wire, err := encoder.MarshalMessage(req)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	opts := got.(*ASReq).Body.Options
	require.Equal(t, 32, opts.BitLength)
	require.Equal(t, []byte{0, 0, 0, 0}, opts.Bytes)
}
