package ldap

import (
	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// resultHolder is implemented by every response that embeds Result.
type resultHolder interface {
	result() *Result
}

const (
	rStart codec.State = iota
	rCode
	rMatched
	rDiag
	rAfter
	rReferral
	rAfterReferral
	rName
	rDone
)

var resultStates = map[codec.State]string{
	rStart: "start", rCode: "result-code", rMatched: "matched-dn", rDiag: "diagnostic",
	rAfter: "after-result", rReferral: "referral", rAfterReferral: "after-referral",
	rName: "response-name", rDone: "done",
}

// onResult binds fn to the Result embedded in the active response.
func onResult(fn func(r *Result, v []byte) error) codec.Action {
	return func(s *codec.Session, _ tlv.Header, v []byte) error {
		h, ok := s.Target().(resultHolder)
		if !ok {
			return codec.ErrTargetType
		}
		return fn(h.result(), v)
	}
}

// resultBuilder declares the LDAPResult fields under an application tag.
// Responses with extra trailing fields add transitions out of rAfter and
// rAfterReferral.
func resultBuilder(name string, tag tlv.Tag, newFn func() any) *codec.Builder {
	return codec.NewBuilder(name, rStart, newFn).
		Label(resultStates).
		Open(rStart, tag, rCode).
		Primitive(rCode, tlv.Enumerated, rMatched, onResult(func(r *Result, v []byte) error {
			n, err := tlv.ParseInt32(v)
			r.Code = ResultCode(n)
			return err
		})).
		Primitive(rMatched, tlv.OctetString, rDiag, onResult(func(r *Result, v []byte) error {
			r.MatchedDN = string(v)
			return nil
		})).
		Primitive(rDiag, tlv.OctetString, rAfter, onResult(func(r *Result, v []byte) error {
			r.Diagnostic = string(v)
			return nil
		})).
		Open(rAfter, tlv.Context(3), rReferral, codec.CloseTo(rAfterReferral), codec.Required(),
			codec.OnOpen(onResult(func(r *Result, _ []byte) error {
				r.Referral = []string{}
				return nil
			}))).
		Primitive(rReferral, tlv.OctetString, rReferral, onResult(func(r *Result, v []byte) error {
			r.Referral = append(r.Referral, string(v))
			return nil
		})).
		End(rAfter, rAfterReferral)
}

func simpleResult[T any](name string, tag tlv.Tag) func() *codec.Grammar {
	return codec.Lazy(func() *codec.Grammar {
		return codec.Register(resultBuilder(name, tag, func() any { return new(T) }).MustBuild())
	})
}

var (
	searchResultDoneGrammar = simpleResult[SearchResultDone]("ldap.SearchResultDone", TagSearchResultDone)
	modifyResponseGrammar   = simpleResult[ModifyResponse]("ldap.ModifyResponse", TagModifyResponse)
	addResponseGrammar      = simpleResult[AddResponse]("ldap.AddResponse", TagAddResponse)
	delResponseGrammar      = simpleResult[DelResponse]("ldap.DelResponse", TagDelResponse)
	modifyDNResponseGrammar = simpleResult[ModifyDNResponse]("ldap.ModifyDNResponse", TagModifyDNResponse)
	compareResponseGrammar  = simpleResult[CompareResponse]("ldap.CompareResponse", TagCompareResponse)
)

var bindResponseGrammar = codec.Lazy(func() *codec.Grammar {
	creds := codec.Bytes(func(m *BindResponse) *[]byte { return &m.ServerSASLCreds })
	return codec.Register(resultBuilder("ldap.BindResponse", TagBindResponse, func() any { return &BindResponse{} }).
		Primitive(rAfter, tlv.ContextPrimitive(7), rDone, creds).
		Primitive(rAfterReferral, tlv.ContextPrimitive(7), rDone, creds).
		End(rDone).
		MustBuild())
})

var extendedResponseGrammar = codec.Lazy(func() *codec.Grammar {
	name := codec.Set(func(m *ExtendedResponse, v []byte) error {
		m.Name, m.HasName = string(v), true
		return nil
	})
	value := codec.Bytes(func(m *ExtendedResponse) *[]byte { return &m.Value })
	return codec.Register(resultBuilder("ldap.ExtendedResponse", TagExtendedResponse, func() any { return &ExtendedResponse{} }).
		Primitive(rAfter, tlv.ContextPrimitive(10), rName, name).
		Primitive(rAfterReferral, tlv.ContextPrimitive(10), rName, name).
		Primitive(rAfter, tlv.ContextPrimitive(11), rDone, value).
		Primitive(rAfterReferral, tlv.ContextPrimitive(11), rDone, value).
		Primitive(rName, tlv.ContextPrimitive(11), rDone, value).
		End(rName, rDone).
		MustBuild())
})

// resultNodes returns the LDAPResult fields, for appending under a response tag.
func (r *Result) resultNodes() []*encoder.Node {
	nodes := []*encoder.Node{
		encoder.Enum(int64(r.Code)),
		encoder.String(tlv.OctetString, r.MatchedDN),
		encoder.String(tlv.OctetString, r.Diagnostic),
	}
	if len(r.Referral) > 0 {
		ref := encoder.Constructed(tlv.Context(3))
		for _, uri := range r.Referral {
			ref.Append(encoder.String(tlv.OctetString, uri))
		}
		nodes = append(nodes, ref)
	}
	return nodes
}

func resultNode(tag tlv.Tag, r *Result) *encoder.Node {
	return encoder.Constructed(tag, r.resultNodes()...)
}

func (m *BindResponse) Node() *encoder.Node {
	n := resultNode(TagBindResponse, &m.Result)
	if m.ServerSASLCreds != nil {
		n.Append(encoder.Primitive(tlv.ContextPrimitive(7), m.ServerSASLCreds))
	}
	return n
}

func (m *SearchResultDone) Node() *encoder.Node { return resultNode(TagSearchResultDone, &m.Result) }
func (m *ModifyResponse) Node() *encoder.Node   { return resultNode(TagModifyResponse, &m.Result) }
func (m *AddResponse) Node() *encoder.Node      { return resultNode(TagAddResponse, &m.Result) }
func (m *DelResponse) Node() *encoder.Node      { return resultNode(TagDelResponse, &m.Result) }
func (m *ModifyDNResponse) Node() *encoder.Node { return resultNode(TagModifyDNResponse, &m.Result) }
func (m *CompareResponse) Node() *encoder.Node  { return resultNode(TagCompareResponse, &m.Result) }

func (m *ExtendedResponse) Node() *encoder.Node {
	n := resultNode(TagExtendedResponse, &m.Result)
	if m.HasName {
		n.Append(encoder.String(tlv.ContextPrimitive(10), m.Name))
	}
	if m.Value != nil {
		n.Append(encoder.Primitive(tlv.ContextPrimitive(11), m.Value))
	}
	return n
}
