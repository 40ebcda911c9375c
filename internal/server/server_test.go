package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dirauth/internal/kerberos"
	"github.com/danmuck/dirauth/internal/ldap"
	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/frame"
	"github.com/danmuck/dirauth/internal/testutil/testlog"
)

const ioTimeout = 3 * time.Second

func startStream(t *testing.T, svc *Service, proto Proto) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln, proto) }()
	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("serve returned %v", err)
			}
		case <-time.After(ioTimeout):
			t.Fatalf("serve did not stop")
		}
	}
	return ln.Addr().String(), stop
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, ioTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, msgs ...*ldap.Message) {
	t.Helper()
	var out []byte
	for _, m := range msgs {
		b, err := m.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out = append(out, b...)
	}
	if _, err := conn.Write(out); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readResult reads until dec completes one message.
func readResult(t *testing.T, conn net.Conn, dec interface {
	Feed([]byte) codec.Result
	Drain() codec.Result
}) any {
	t.Helper()
	if res := dec.Drain(); res.Done() {
		return res.Message
	}
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			res := dec.Feed(buf[:n])
			switch res.Status {
			case codec.Complete:
				return res.Message
			case codec.Failed:
				t.Fatalf("client decode: %v", res.Err)
			}
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

func readLDAP(t *testing.T, conn net.Conn, dec *codec.Session) *ldap.Message {
	t.Helper()
	return readResult(t, conn, dec).(*ldap.Message)
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	var b [1]byte
	_, err := conn.Read(b[:])
	if err == nil {
		t.Fatalf("expected closed connection")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Fatalf("connection left open: %v", err)
	}
}

func resultOf(t *testing.T, op ldap.Operation) ldap.Result {
	t.Helper()
	switch op := op.(type) {
	case *ldap.BindResponse:
		return op.Result
	case *ldap.SearchResultDone:
		return op.Result
	case *ldap.DelResponse:
		return op.Result
	case *ldap.ExtendedResponse:
		return op.Result
	default:
		t.Fatalf("unexpected operation %T", op)
		return ldap.Result{}
	}
}

func TestLDAPBindRefusedAcrossSplitWrites(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	conn := dial(t, addr)
	b, err := (&ldap.Message{ID: 1, Op: &ldap.BindRequest{Version: 3, Name: "cn=admin", Password: []byte("pw")}}).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, part := range [][]byte{b[:3], b[3:9], b[9:]} {
		if _, err := conn.Write(part); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := readLDAP(t, conn, ldap.NewSession())
	if got.ID != 1 {
		t.Fatalf("unexpected message id %d", got.ID)
	}
	if _, ok := got.Op.(*ldap.BindResponse); !ok {
		t.Fatalf("expected bind response, got %T", got.Op)
	}
	if code := resultOf(t, got.Op).Code; code != ldap.UnwillingToPerform {
		t.Fatalf("unexpected result code %s", code)
	}
}

func TestLDAPPipelinedRequests(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	conn := dial(t, addr)
	send(t, conn,
		&ldap.Message{ID: 1, Op: &ldap.SearchRequest{BaseDN: "dc=example,dc=com", Scope: ldap.ScopeWholeSubtree}},
		&ldap.Message{ID: 2, Op: &ldap.AbandonRequest{MessageID: 1}},
		&ldap.Message{ID: 3, Op: &ldap.DelRequest{DN: "cn=x,dc=example,dc=com"}},
	)

	dec := ldap.NewSession()
	first := readLDAP(t, conn, dec)
	second := readLDAP(t, conn, dec)
	if first.ID != 1 {
		t.Fatalf("expected search reply first, got id %d", first.ID)
	}
	if _, ok := first.Op.(*ldap.SearchResultDone); !ok {
		t.Fatalf("expected search done, got %T", first.Op)
	}
	if second.ID != 3 {
		t.Fatalf("abandon must not be answered, got id %d", second.ID)
	}
	if _, ok := second.Op.(*ldap.DelResponse); !ok {
		t.Fatalf("expected delete response, got %T", second.Op)
	}

	sessions := svc.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if sessions[0].Proto != ProtoLDAP || sessions[0].Messages != 3 || sessions[0].ID == "" {
		t.Fatalf("unexpected session snapshot %+v", sessions[0])
	}
}

func TestLDAPUnbindClosesConnection(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	conn := dial(t, addr)
	send(t, conn, &ldap.Message{ID: 9, Op: &ldap.UnbindRequest{}})
	expectClosed(t, conn)
}

func TestLDAPMalformedInputSendsNotice(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	healthy := dial(t, addr)
	bad := dial(t, addr)

	// An OCTET STRING where the LDAPMessage SEQUENCE belongs.
	if _, err := bad.Write([]byte{0x04, 0x02, 'h', 'i'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	notice := readLDAP(t, bad, ldap.NewSession())
	if notice.ID != 0 {
		t.Fatalf("notice must use message id 0, got %d", notice.ID)
	}
	ext, ok := notice.Op.(*ldap.ExtendedResponse)
	if !ok {
		t.Fatalf("expected extended response, got %T", notice.Op)
	}
	if ext.Name != ldap.NoticeOfDisconnectionOID || ext.Code != ldap.ProtocolError {
		t.Fatalf("unexpected notice %+v", ext)
	}
	expectClosed(t, bad)

	send(t, healthy, &ldap.Message{ID: 4, Op: &ldap.DelRequest{DN: "cn=y"}})
	if got := readLDAP(t, healthy, ldap.NewSession()); got.ID != 4 {
		t.Fatalf("healthy connection broken, got id %d", got.ID)
	}
}

func TestLDAPResponseFromClientIsProtocolError(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	conn := dial(t, addr)
	send(t, conn, &ldap.Message{ID: 2, Op: &ldap.DelResponse{}})
	notice := readLDAP(t, conn, ldap.NewSession())
	if code := resultOf(t, notice.Op).Code; code != ldap.ProtocolError {
		t.Fatalf("unexpected result code %s", code)
	}
	expectClosed(t, conn)
}

func TestLDAPHandlerErrorSendsOther(t *testing.T) {
	testlog.Start(t)

	failing := DirectoryHandlerFunc(func(context.Context, *ldap.Message) ([]*ldap.Message, error) {
		return nil, errors.New("backend down")
	})
	svc := NewService(DefaultServiceConfig(), WithDirectoryHandler(failing))
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	conn := dial(t, addr)
	send(t, conn, &ldap.Message{ID: 5, Op: &ldap.DelRequest{DN: "cn=z"}})
	notice := readLDAP(t, conn, ldap.NewSession())
	if code := resultOf(t, notice.Op).Code; code != ldap.Other {
		t.Fatalf("unexpected result code %s", code)
	}
	expectClosed(t, conn)
}

func TestLDAPOversizedMessageRejected(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	cfg.MaxPDUBytes = 64
	svc := NewService(cfg)
	addr, stop := startStream(t, svc, ProtoLDAP)
	defer stop()

	conn := dial(t, addr)
	send(t, conn, &ldap.Message{ID: 1, Op: &ldap.DelRequest{DN: string(make([]byte, 100))}})
	notice := readLDAP(t, conn, ldap.NewSession())
	if code := resultOf(t, notice.Op).Code; code != ldap.ProtocolError {
		t.Fatalf("unexpected result code %s", code)
	}
}

func sampleASReq() *kerberos.ASReq {
	sname := kerberos.PrincipalName{NameType: kerberos.NTSrvInst, NameString: []string{"krbtgt", "CORP.TEST"}}
	return &kerberos.ASReq{KDCReq: kerberos.KDCReq{Body: kerberos.KDCReqBody{
		Realm:  "CORP.TEST",
		SName:  &sname,
		Till:   time.Date(2037, 1, 1, 0, 0, 0, 0, time.UTC),
		Nonce:  42,
		ETypes: []int32{18},
	}}}
}

func expectUnavailable(t *testing.T, msg kerberos.Message) {
	t.Helper()
	krbErr, ok := msg.(*kerberos.KRBError)
	if !ok {
		t.Fatalf("expected KRB-ERROR, got %T", msg)
	}
	if krbErr.ErrorCode != kerberos.KDCErrSvcUnavailable {
		t.Fatalf("unexpected error code %s", krbErr.ErrorCode)
	}
	if krbErr.Realm != "CORP.TEST" || krbErr.SName.NameString[0] != "krbtgt" {
		t.Fatalf("unexpected reply target %q %v", krbErr.Realm, krbErr.SName)
	}
}

func TestKerberosStreamAnswersWithError(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoKerberos)
	defer stop()

	conn := dial(t, addr)
	payload, err := encoder.MarshalMessage(sampleASReq())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	dec := frame.NewSession(kerberos.Grammar(), frame.DefaultLimits())
	expectUnavailable(t, readResult(t, conn, dec).(kerberos.Message))

	// The connection stays usable for the next request.
	if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	expectUnavailable(t, readResult(t, conn, dec).(kerberos.Message))
}

func TestKerberosStreamReservedBitCloses(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoKerberos)
	defer stop()

	conn := dial(t, addr)
	if _, err := conn.Write([]byte{0x80, 0, 0, 4, 1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClosed(t, conn)
}

func TestServePacket(t *testing.T) {
	testlog.Start(t)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	svc := NewService(DefaultServiceConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.ServePacket(ctx, pc) }()

	conn, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0x30, 0x00}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	payload, err := encoder.MarshalMessage(sampleASReq())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := kerberos.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	expectUnavailable(t, msg)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve packet returned %v", err)
	}
}

func TestServePacketReplyTooBig(t *testing.T) {
	testlog.Start(t)

	big := TicketHandlerFunc(func(context.Context, kerberos.Message) (encoder.Marshaler, error) {
		return &kerberos.KRBError{
			STime:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			ErrorCode: kerberos.KRBErrGeneric,
			Realm:     "CORP.TEST",
			SName:     kerberos.PrincipalName{NameType: kerberos.NTSrvInst, NameString: []string{"krbtgt"}},
			EData:     make([]byte, 2*maxUDPReply),
		}, nil
	})
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	svc := NewService(DefaultServiceConfig(), WithTicketHandler(big))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.ServePacket(ctx, pc) }()

	conn, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	payload, err := encoder.MarshalMessage(sampleASReq())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))
	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := kerberos.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if code := msg.(*kerberos.KRBError).ErrorCode; code != kerberos.KRBErrResponseTooBig {
		t.Fatalf("unexpected error code %s", code)
	}
}

func TestShutdownClosesActiveConnections(t *testing.T) {
	testlog.Start(t)

	svc := NewService(DefaultServiceConfig())
	addr, stop := startStream(t, svc, ProtoLDAP)

	conn := dial(t, addr)
	send(t, conn, &ldap.Message{ID: 1, Op: &ldap.DelRequest{DN: "cn=a"}})
	readLDAP(t, conn, ldap.NewSession())

	stop()
	expectClosed(t, conn)
	if n := len(svc.Sessions()); n != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", n)
	}
}

func TestServeRejectsUnknownProto(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if err := NewService(DefaultServiceConfig()).Serve(context.Background(), ln, ProtoKerberosUDP); err == nil {
		t.Fatalf("expected error for datagram proto on stream listener")
	}
}

func TestRunBindsConfiguredListeners(t *testing.T) {
	logs := testlog.Capture(t)

	cfg := DefaultServiceConfig()
	cfg.LDAPAddr = "127.0.0.1:0"
	cfg.KerberosAddr = "127.0.0.1:0"
	cfg.KerberosUDPAddr = "127.0.0.1:0"
	svc := NewService(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(ioTimeout)
	for !svc.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("service never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, p := range []Proto{ProtoLDAP, ProtoKerberos, ProtoKerberosUDP} {
		if svc.Addr(p) == nil {
			t.Fatalf("no address for %s", p)
		}
	}
	if svc.Addr(ProtoLDAPS) != nil {
		t.Fatalf("ldaps must stay disabled")
	}

	conn := dial(t, svc.Addr(ProtoLDAP).String())
	send(t, conn, &ldap.Message{ID: 7, Op: &ldap.DelRequest{DN: "cn=q"}})
	if got := readLDAP(t, conn, ldap.NewSession()); got.ID != 7 {
		t.Fatalf("unexpected reply id %d", got.ID)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(ioTimeout):
		t.Fatalf("run did not stop")
	}
	if svc.Ready() {
		t.Fatalf("service still ready after shutdown")
	}
	for _, p := range []Proto{ProtoLDAP, ProtoKerberos, ProtoKerberosUDP} {
		if !loggedAtInfo(logs.String(), "listening proto="+string(p)+" ") {
			t.Fatalf("listening line for %s not at info: %s", p, logs.String())
		}
	}
}

func loggedAtInfo(out, msg string) bool {
	for _, line := range strings.Split(out, "\n") {
		var ev struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(line), &ev) != nil {
			continue
		}
		if ev.Level == "info" && strings.Contains(ev.Message, msg) {
			return true
		}
	}
	return false
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultServiceConfig()
	cfg.LDAPSAddr = "127.0.0.1:0"
	if err := NewService(cfg).Run(context.Background()); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected missing cert error, got %v", err)
	}
}
