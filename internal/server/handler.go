package server

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/dirauth/internal/kerberos"
	"github.com/danmuck/dirauth/internal/ldap"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
)

// ErrNotRequest reports a client that sent a server-to-client operation.
var ErrNotRequest = errors.New("server: operation is not a client request")

// DirectoryHandler answers one decoded LDAP message. Returned messages are
// written in order; an error closes the connection.
type DirectoryHandler interface {
	HandleLDAP(ctx context.Context, msg *ldap.Message) ([]*ldap.Message, error)
}

// TicketHandler answers one decoded Kerberos message. A nil reply sends nothing.
type TicketHandler interface {
	HandleKerberos(ctx context.Context, msg kerberos.Message) (encoder.Marshaler, error)
}

type DirectoryHandlerFunc func(ctx context.Context, msg *ldap.Message) ([]*ldap.Message, error)

func (f DirectoryHandlerFunc) HandleLDAP(ctx context.Context, msg *ldap.Message) ([]*ldap.Message, error) {
	return f(ctx, msg)
}

type TicketHandlerFunc func(ctx context.Context, msg kerberos.Message) (encoder.Marshaler, error)

func (f TicketHandlerFunc) HandleKerberos(ctx context.Context, msg kerberos.Message) (encoder.Marshaler, error) {
	return f(ctx, msg)
}

// UnwillingDirectory refuses every LDAP request with unwillingToPerform.
// Unbind and Abandon get no reply.
type UnwillingDirectory struct{}

func (UnwillingDirectory) HandleLDAP(_ context.Context, msg *ldap.Message) ([]*ldap.Message, error) {
	op, err := refusal(msg.Op, ldap.Result{
		Code:       ldap.UnwillingToPerform,
		Diagnostic: "operation not supported by this server",
	})
	if err != nil || op == nil {
		return nil, err
	}
	return []*ldap.Message{{ID: msg.ID, Op: op}}, nil
}

// refusal builds the response operation matching req carrying r.
func refusal(req ldap.Operation, r ldap.Result) (ldap.Operation, error) {
	switch req := req.(type) {
	case *ldap.BindRequest:
		return &ldap.BindResponse{Result: r}, nil
	case *ldap.SearchRequest:
		return &ldap.SearchResultDone{Result: r}, nil
	case *ldap.ModifyRequest:
		return &ldap.ModifyResponse{Result: r}, nil
	case *ldap.AddRequest:
		return &ldap.AddResponse{Result: r}, nil
	case *ldap.DelRequest:
		return &ldap.DelResponse{Result: r}, nil
	case *ldap.ModifyDNRequest:
		return &ldap.ModifyDNResponse{Result: r}, nil
	case *ldap.CompareRequest:
		return &ldap.CompareResponse{Result: r}, nil
	case *ldap.ExtendedRequest:
		return &ldap.ExtendedResponse{Result: r, Name: req.Name, HasName: true}, nil
	case *ldap.UnbindRequest, *ldap.AbandonRequest:
		return nil, nil
	default:
		return nil, ErrNotRequest
	}
}

// UnavailableKDC answers every Kerberos request with KDC_ERR_SVC_UNAVAILABLE.
type UnavailableKDC struct {
	Realm string
	Now   func() time.Time
}

func (k UnavailableKDC) HandleKerberos(_ context.Context, msg kerberos.Message) (encoder.Marshaler, error) {
	switch msg.(type) {
	case *kerberos.ASReq, *kerberos.TGSReq, *kerberos.APReq:
	default:
		return nil, ErrNotRequest
	}
	now := time.Now
	if k.Now != nil {
		now = k.Now
	}
	realm, sname := replyTarget(msg, k.Realm)
	return kerberos.NewError(kerberos.KDCErrSvcUnavailable, realm, sname, now(), "service unavailable"), nil
}

// replyTarget picks the realm and server name a KRB-ERROR should carry.
func replyTarget(msg kerberos.Message, fallback string) (string, kerberos.PrincipalName) {
	var body *kerberos.KDCReqBody
	switch m := msg.(type) {
	case *kerberos.ASReq:
		body = &m.Body
	case *kerberos.TGSReq:
		body = &m.Body
	case *kerberos.APReq:
		return m.Ticket.Realm, m.Ticket.SName
	}
	realm := fallback
	sname := kerberos.PrincipalName{
		NameType:   kerberos.NTSrvInst,
		NameString: []string{"krbtgt", fallback},
	}
	if body != nil {
		if body.Realm != "" {
			realm = body.Realm
		}
		if body.SName != nil {
			sname = *body.SName
		}
	}
	return realm, sname
}
