package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/dirauth/internal/kerberos"
	"github.com/danmuck/dirauth/internal/ldap"
	"github.com/danmuck/dirauth/internal/observability"
	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/frame"
)

// Proto names a listener's wire protocol.
type Proto string

const (
	ProtoLDAP        Proto = "ldap"
	ProtoLDAPS       Proto = "ldaps"
	ProtoKerberos    Proto = "kerberos"
	ProtoKerberosUDP Proto = "kerberos-udp"
)

const (
	readChunk = 32 * 1024
	maxDatagram = 65535
	// Datagram replies above maxUDPReply are replaced by
	// KRB_ERR_RESPONSE_TOO_BIG.
	maxUDPReply = 1400
)

var (
	errDecode  = errors.New("server: decode failed")
	errHandler = errors.New("server: handler failed")
)

// SessionInfo is a snapshot of one open client connection.
type SessionInfo struct {
	ID          string    `json:"id"`
	Proto       Proto     `json:"proto"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Messages    int64     `json:"messages"`
	BytesIn     int64     `json:"bytes_in"`
}

type connState struct {
	info     SessionInfo
	messages atomic.Int64
	bytesIn  atomic.Int64
}

func (c *connState) snapshot() SessionInfo {
	out := c.info
	out.Messages = c.messages.Load()
	out.BytesIn = c.bytesIn.Load()
	return out
}

// decoder is satisfied by codec.Session and frame.Session.
type decoder interface {
	Feed(p []byte) codec.Result
	Drain() codec.Result
}

type Option func(*Service)

func WithDirectoryHandler(h DirectoryHandler) Option {
	return func(s *Service) { s.directory = h }
}

func WithTicketHandler(h TicketHandler) Option {
	return func(s *Service) { s.tickets = h }
}

// Service runs the LDAP and Kerberos listeners. Every connection owns one
// decode session; nothing decoded is shared between connections.
type Service struct {
	cfg       ServiceConfig
	directory DirectoryHandler
	tickets   TicketHandler

	connsMu sync.Mutex
	conns   map[net.Conn]*connState

	addrsMu sync.Mutex
	addrs   map[Proto]net.Addr

	clientCount atomic.Int64
	ready       atomic.Bool
}

func NewService(cfg ServiceConfig, opts ...Option) *Service {
	cfg = cfg.WithDefaults()
	s := &Service{
		cfg:       cfg,
		directory: UnwillingDirectory{},
		tickets:   UnavailableKDC{Realm: cfg.Realm},
		conns:     make(map[net.Conn]*connState),
		addrs:     make(map[Proto]net.Addr),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Ready reports whether Run has bound every configured listener.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Addr returns the bound address of a listener started by Run.
func (s *Service) Addr(p Proto) net.Addr {
	s.addrsMu.Lock()
	defer s.addrsMu.Unlock()
	return s.addrs[p]
}

// Sessions returns the open connections ordered by connect time.
func (s *Service) Sessions() []SessionInfo {
	s.connsMu.Lock()
	out := make([]SessionInfo, 0, len(s.conns))
	for _, st := range s.conns {
		out = append(out, st.snapshot())
	}
	s.connsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Run binds every configured listener and serves until ctx is done or a
// listener fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	observability.RegisterMetrics()

	type stream struct {
		proto Proto
		ln    net.Listener
	}
	var streams []stream
	var packets net.PacketConn
	closeAll := func() {
		for _, st := range streams {
			_ = st.ln.Close()
		}
		if packets != nil {
			_ = packets.Close()
		}
	}

	for _, want := range []struct {
		proto Proto
		addr  string
	}{
		{ProtoLDAP, s.cfg.LDAPAddr},
		{ProtoLDAPS, s.cfg.LDAPSAddr},
		{ProtoKerberos, s.cfg.KerberosAddr},
	} {
		addr := strings.TrimSpace(want.addr)
		if addr == "" {
			continue
		}
		ln, err := s.listen(want.proto, addr)
		if err != nil {
			closeAll()
			return fmt.Errorf("server: listen %s %s: %w", want.proto, addr, err)
		}
		streams = append(streams, stream{want.proto, ln})
		s.setAddr(want.proto, ln.Addr())
		log.Info().Msgf("server.Service.Run listening proto=%s addr=%q", want.proto, ln.Addr().String())
	}
	if addr := strings.TrimSpace(s.cfg.KerberosUDPAddr); addr != "" {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			closeAll()
			return fmt.Errorf("server: listen %s %s: %w", ProtoKerberosUDP, addr, err)
		}
		packets = pc
		s.setAddr(ProtoKerberosUDP, pc.LocalAddr())
		log.Info().Msgf("server.Service.Run listening proto=%s addr=%q", ProtoKerberosUDP, pc.LocalAddr().String())
	}

	s.ready.Store(true)
	defer s.ready.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range streams {
		g.Go(func() error { return s.Serve(gctx, st.ln, st.proto) })
	}
	if packets != nil {
		g.Go(func() error { return s.ServePacket(gctx, packets) })
	}
	return g.Wait()
}

func (s *Service) setAddr(p Proto, a net.Addr) {
	s.addrsMu.Lock()
	defer s.addrsMu.Unlock()
	s.addrs[p] = a
}

// listen opens a TCP listener, wrapped in TLS for LDAPS.
func (s *Service) listen(p Proto, addr string) (net.Listener, error) {
	if p != ProtoLDAPS {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := s.serverTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

func (s *Service) serverTLSConfig() (*tls.Config, error) {
	if err := s.cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// Serve accepts stream connections for proto on ln until ctx is done.
// Temporary accept errors are retried with backoff.
func (s *Service) Serve(ctx context.Context, ln net.Listener, proto Proto) error {
	switch proto {
	case ProtoLDAP, ProtoLDAPS, ProtoKerberos:
	default:
		return fmt.Errorf("server: unsupported stream protocol %q", proto)
	}
	var handlers sync.WaitGroup
	defer func() {
		_ = ln.Close()
		s.closeConns(proto)
		handlers.Wait()
	}()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if !isTemporary(err) {
				return err
			}
			attempt++
			delay := s.cfg.Backoff.Delay(attempt, rng)
			log.Warn().Msgf("server.Serve accept retry proto=%s attempt=%d delay=%s err=%v", proto, attempt, delay, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		st := s.trackConn(conn, proto)
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			s.handleConn(ctx, conn, st)
		}()
	}
}

func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}

// handleConn owns one client connection and its decode session.
func (s *Service) handleConn(ctx context.Context, conn net.Conn, st *connState) {
	defer conn.Close()
	defer s.untrackConn(conn)

	proto := st.info.Proto
	active := s.clientCount.Add(1)
	closed := observability.SessionOpened(string(proto))
	log.Info().Msgf("server.session client connected id=%q proto=%s remote=%q active_clients=%d",
		st.info.ID, proto, st.info.Remote, active)
	defer func() {
		closed()
		remaining := s.clientCount.Add(-1)
		log.Info().Msgf("server.session client disconnected id=%q proto=%s remote=%q active_clients=%d",
			st.info.ID, proto, st.info.Remote, remaining)
	}()

	var err error
	switch proto {
	case ProtoKerberos:
		err = s.serveKerberos(ctx, conn, st)
	default:
		err = s.serveLDAP(ctx, conn, st)
	}
	if err != nil && ctx.Err() == nil {
		log.Warn().Msgf("server.handleConn closing id=%q proto=%s err=%v", st.info.ID, proto, err)
	}
}

// pump reads conn into dec and hands every decoded message to deliver. It
// returns nil on clean EOF or when deliver asks to stop.
func (s *Service) pump(ctx context.Context, conn net.Conn, st *connState, dec decoder, deliver func(msg any) (bool, error)) error {
	proto := string(st.info.Proto)
	buf := make([]byte, readChunk)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, rerr := conn.Read(buf)
		if n > 0 {
			st.bytesIn.Add(int64(n))
			observability.RecordBytes(proto, n)
			res := dec.Feed(buf[:n])
			for res.Done() {
				st.messages.Add(1)
				observability.RecordDecoded(proto, res.Consumed)
				stop, err := deliver(res.Message)
				if err != nil || stop {
					return err
				}
				res = dec.Drain()
			}
			if res.Status == codec.Failed {
				observability.RecordDecodeError(proto, res.Err)
				return fmt.Errorf("%w: %w", errDecode, res.Err)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
	return nil
}

func (s *Service) serveLDAP(ctx context.Context, conn net.Conn, st *connState) error {
	dec := ldap.NewSession(codec.WithMaxPDU(s.cfg.MaxPDUBytes))
	err := s.pump(ctx, conn, st, dec, func(v any) (bool, error) {
		msg := v.(*ldap.Message)
		log.Debug().Msgf("server.serveLDAP id=%q message_id=%d op=%s", st.info.ID, msg.ID, msg.Op.OpName())
		replies, err := s.directory.HandleLDAP(ctx, msg)
		if err != nil {
			return false, fmt.Errorf("%w: %w", errHandler, err)
		}
		for _, r := range replies {
			b, err := r.Encode()
			if err != nil {
				return false, fmt.Errorf("%w: encode reply: %w", errHandler, err)
			}
			if err := s.write(conn, b); err != nil {
				return false, err
			}
		}
		_, unbind := msg.Op.(*ldap.UnbindRequest)
		return unbind, nil
	})
	if err == nil {
		return nil
	}
	var notice *ldap.Message
	switch {
	case errors.Is(err, errDecode), errors.Is(err, ErrNotRequest):
		notice = ldap.NoticeOfDisconnection(ldap.ProtocolError, err.Error())
	case errors.Is(err, errHandler):
		notice = ldap.NoticeOfDisconnection(ldap.Other, "internal error")
	}
	if notice != nil {
		if b, nerr := notice.Encode(); nerr == nil {
			_ = s.write(conn, b)
		}
	}
	return err
}

func (s *Service) serveKerberos(ctx context.Context, conn net.Conn, st *connState) error {
	limits := frame.Limits{MaxPayloadBytes: uint32(s.cfg.MaxPDUBytes)}
	dec := frame.NewSession(kerberos.Grammar(), limits)
	return s.pump(ctx, conn, st, dec, func(v any) (bool, error) {
		reply, err := s.answerKerberos(ctx, v.(kerberos.Message))
		if err != nil || reply == nil {
			return false, err
		}
		out := frame.AppendHeader(make([]byte, 0, frame.HeaderLen+len(reply)), uint32(len(reply)))
		return false, s.write(conn, append(out, reply...))
	})
}

// answerKerberos runs the ticket handler and encodes its reply.
func (s *Service) answerKerberos(ctx context.Context, msg kerberos.Message) ([]byte, error) {
	log.Debug().Msgf("server.answerKerberos msg_type=%d", msg.MsgType())
	reply, err := s.tickets.HandleKerberos(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errHandler, err)
	}
	if reply == nil {
		return nil, nil
	}
	b, err := encoder.MarshalMessage(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: encode reply: %w", errHandler, err)
	}
	return b, nil
}

// ServePacket answers Kerberos datagrams on pc until ctx is done. Each
// datagram must hold exactly one message; undecodable datagrams are dropped.
func (s *Service) ServePacket(ctx context.Context, pc net.PacketConn) error {
	proto := string(ProtoKerberosUDP)
	defer pc.Close()
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTemporary(err) {
				continue
			}
			return err
		}
		observability.RecordBytes(proto, n)
		msg, err := kerberos.Decode(buf[:n], codec.WithMaxPDU(s.cfg.MaxPDUBytes))
		if err != nil {
			observability.RecordDecodeError(proto, err)
			log.Debug().Msgf("server.ServePacket drop remote=%q err=%v", addr.String(), err)
			continue
		}
		observability.RecordDecoded(proto, n)

		reply, err := s.answerKerberos(ctx, msg)
		if err != nil {
			log.Warn().Msgf("server.ServePacket remote=%q err=%v", addr.String(), err)
			continue
		}
		if reply == nil {
			continue
		}
		if len(reply) > maxUDPReply {
			realm, sname := replyTarget(msg, s.cfg.Realm)
			tooBig := kerberos.NewError(kerberos.KRBErrResponseTooBig, realm, sname, time.Now(), "")
			if reply, err = encoder.MarshalMessage(tooBig); err != nil {
				continue
			}
		}
		_ = pc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := pc.WriteTo(reply, addr); err != nil {
			log.Warn().Msgf("server.ServePacket write remote=%q err=%v", addr.String(), err)
		}
	}
}

func (s *Service) write(conn net.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, err := conn.Write(b)
	return err
}

func (s *Service) trackConn(conn net.Conn, proto Proto) *connState {
	st := &connState{info: SessionInfo{
		ID:          uuid.NewString(),
		Proto:       proto,
		Remote:      conn.RemoteAddr().String(),
		ConnectedAt: time.Now().UTC(),
	}}
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = st
	return st
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// closeConns closes the tracked connections of one protocol.
func (s *Service) closeConns(proto Proto) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn, st := range s.conns {
		if st.info.Proto == proto {
			_ = conn.Close()
		}
	}
}
