package ldap

import (
	"fmt"

	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// Protocol operation tags.
var (
	TagBindRequest           = tlv.Application(0)
	TagBindResponse          = tlv.Application(1)
	TagUnbindRequest         = tlv.ApplicationPrimitive(2)
	TagSearchRequest         = tlv.Application(3)
	TagSearchResultEntry     = tlv.Application(4)
	TagSearchResultDone      = tlv.Application(5)
	TagModifyRequest         = tlv.Application(6)
	TagModifyResponse        = tlv.Application(7)
	TagAddRequest            = tlv.Application(8)
	TagAddResponse           = tlv.Application(9)
	TagDelRequest            = tlv.ApplicationPrimitive(10)
	TagDelResponse           = tlv.Application(11)
	TagModifyDNRequest       = tlv.Application(12)
	TagModifyDNResponse      = tlv.Application(13)
	TagCompareRequest        = tlv.Application(14)
	TagCompareResponse       = tlv.Application(15)
	TagAbandonRequest        = tlv.ApplicationPrimitive(16)
	TagSearchResultReference = tlv.Application(19)
	TagExtendedRequest       = tlv.Application(23)
	TagExtendedResponse      = tlv.Application(24)
	TagIntermediateResponse  = tlv.Application(25)
)

// Operation is the protocolOp of a Message.
type Operation interface {
	encoder.Marshaler
	OpName() string
}

// ResultCode is the LDAPResult resultCode enumeration.
type ResultCode int32

const (
	Success                      ResultCode = 0
	OperationsError              ResultCode = 1
	ProtocolError                ResultCode = 2
	TimeLimitExceeded            ResultCode = 3
	SizeLimitExceeded            ResultCode = 4
	CompareFalse                 ResultCode = 5
	CompareTrue                  ResultCode = 6
	AuthMethodNotSupported       ResultCode = 7
	StrongerAuthRequired         ResultCode = 8
	Referral                     ResultCode = 10
	AdminLimitExceeded           ResultCode = 11
	UnavailableCriticalExtension ResultCode = 12
	ConfidentialityRequired      ResultCode = 13
	SaslBindInProgress           ResultCode = 14
	NoSuchAttribute              ResultCode = 16
	UndefinedAttributeType       ResultCode = 17
	InappropriateMatching        ResultCode = 18
	ConstraintViolation          ResultCode = 19
	AttributeOrValueExists       ResultCode = 20
	InvalidAttributeSyntax       ResultCode = 21
	NoSuchObject                 ResultCode = 32
	AliasProblem                 ResultCode = 33
	InvalidDNSyntax              ResultCode = 34
	AliasDereferencingProblem    ResultCode = 36
	InappropriateAuthentication  ResultCode = 48
	InvalidCredentials           ResultCode = 49
	InsufficientAccessRights     ResultCode = 50
	Busy                         ResultCode = 51
	Unavailable                  ResultCode = 52
	UnwillingToPerform           ResultCode = 53
	LoopDetect                   ResultCode = 54
	NamingViolation              ResultCode = 64
	ObjectClassViolation         ResultCode = 65
	NotAllowedOnNonLeaf          ResultCode = 66
	NotAllowedOnRDN              ResultCode = 67
	EntryAlreadyExists           ResultCode = 68
	ObjectClassModsProhibited    ResultCode = 69
	AffectsMultipleDSAs          ResultCode = 71
	Other                        ResultCode = 80
)

var resultCodeNames = map[ResultCode]string{
	Success:                      "success",
	OperationsError:              "operationsError",
	ProtocolError:                "protocolError",
	TimeLimitExceeded:            "timeLimitExceeded",
	SizeLimitExceeded:            "sizeLimitExceeded",
	CompareFalse:                 "compareFalse",
	CompareTrue:                  "compareTrue",
	AuthMethodNotSupported:       "authMethodNotSupported",
	StrongerAuthRequired:         "strongerAuthRequired",
	Referral:                     "referral",
	AdminLimitExceeded:           "adminLimitExceeded",
	UnavailableCriticalExtension: "unavailableCriticalExtension",
	ConfidentialityRequired:      "confidentialityRequired",
	SaslBindInProgress:           "saslBindInProgress",
	NoSuchAttribute:              "noSuchAttribute",
	UndefinedAttributeType:       "undefinedAttributeType",
	InappropriateMatching:        "inappropriateMatching",
	ConstraintViolation:          "constraintViolation",
	AttributeOrValueExists:       "attributeOrValueExists",
	InvalidAttributeSyntax:       "invalidAttributeSyntax",
	NoSuchObject:                 "noSuchObject",
	AliasProblem:                 "aliasProblem",
	InvalidDNSyntax:              "invalidDNSyntax",
	AliasDereferencingProblem:    "aliasDereferencingProblem",
	InappropriateAuthentication:  "inappropriateAuthentication",
	InvalidCredentials:           "invalidCredentials",
	InsufficientAccessRights:     "insufficientAccessRights",
	Busy:                         "busy",
	Unavailable:                  "unavailable",
	UnwillingToPerform:           "unwillingToPerform",
	LoopDetect:                   "loopDetect",
	NamingViolation:              "namingViolation",
	ObjectClassViolation:         "objectClassViolation",
	NotAllowedOnNonLeaf:          "notAllowedOnNonLeaf",
	NotAllowedOnRDN:              "notAllowedOnRDN",
	EntryAlreadyExists:           "entryAlreadyExists",
	ObjectClassModsProhibited:    "objectClassModsProhibited",
	AffectsMultipleDSAs:          "affectsMultipleDSAs",
	Other:                        "other",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("resultCode(%d)", int32(c))
}

// Scope is the SearchRequest scope.
type Scope int32

const (
	ScopeBaseObject   Scope = 0
	ScopeSingleLevel  Scope = 1
	ScopeWholeSubtree Scope = 2
)

// DerefAliases is the SearchRequest derefAliases policy.
type DerefAliases int32

const (
	NeverDerefAliases   DerefAliases = 0
	DerefInSearching    DerefAliases = 1
	DerefFindingBaseObj DerefAliases = 2
	DerefAlways         DerefAliases = 3
)

// ModifyOp is the operation of one ModifyRequest change.
type ModifyOp int32

const (
	ModifyAdd       ModifyOp = 0
	ModifyDelete    ModifyOp = 1
	ModifyReplace   ModifyOp = 2
	ModifyIncrement ModifyOp = 3
)

// NoticeOfDisconnectionOID names the unsolicited notification a server sends
// before dropping a connection.
const NoticeOfDisconnectionOID = "1.3.6.1.4.1.1466.20036"

// Control is one request or response control.
type Control struct {
	Type        string
	Criticality bool
	Value       []byte
}

// Attribute is a PartialAttribute: a description and its values.
type Attribute struct {
	Type   string
	Values [][]byte
}

// Result is the LDAPResult shared by most responses.
type Result struct {
	Code       ResultCode
	MatchedDN  string
	Diagnostic string
	Referral   []string
}

func (r *Result) result() *Result { return r }

// SASLCredentials carries a SASL bind mechanism and optional credentials.
type SASLCredentials struct {
	Mechanism   string
	Credentials []byte
}

type BindRequest struct {
	Version int32
	Name    string
	// Password is the simple credential; it is ignored when SASL is set. The
	// field is always on the wire, so a nil Password decodes as empty.
	Password []byte
	SASL     *SASLCredentials
}

type BindResponse struct {
	Result
	ServerSASLCreds []byte
}

type UnbindRequest struct{}

type SearchRequest struct {
	BaseDN       string
	Scope        Scope
	DerefAliases DerefAliases
	SizeLimit    int32
	TimeLimit    int32
	TypesOnly    bool
	Filter       *Filter
	Attributes   []string
}

type SearchResultEntry struct {
	ObjectName string
	Attributes []Attribute
}

type SearchResultReference struct {
	URIs []string
}

type SearchResultDone struct{ Result }

// Change is one modification inside a ModifyRequest.
type Change struct {
	Operation    ModifyOp
	Modification Attribute
}

type ModifyRequest struct {
	Object  string
	Changes []Change
}

type ModifyResponse struct{ Result }

type AddRequest struct {
	Entry      string
	Attributes []Attribute
}

type AddResponse struct{ Result }

type DelRequest struct {
	DN string
}

type DelResponse struct{ Result }

type ModifyDNRequest struct {
	Entry        string
	NewRDN       string
	DeleteOldRDN bool
	// NewSuperior is only encoded when HasNewSuperior is set.
	NewSuperior    string
	HasNewSuperior bool
}

type ModifyDNResponse struct{ Result }

type CompareRequest struct {
	Entry     string
	Attribute string
	Value     []byte
}

type CompareResponse struct{ Result }

type AbandonRequest struct {
	MessageID int32
}

type ExtendedRequest struct {
	Name  string
	Value []byte
}

type ExtendedResponse struct {
	Result
	// Name is only encoded when HasName is set, so an empty responseName
	// survives a round trip.
	Name    string
	HasName bool
	Value   []byte
}

type IntermediateResponse struct {
	Name    string
	HasName bool
	Value   []byte
}

func (*BindRequest) OpName() string           { return "bindRequest" }
func (*BindResponse) OpName() string          { return "bindResponse" }
func (*UnbindRequest) OpName() string         { return "unbindRequest" }
func (*SearchRequest) OpName() string         { return "searchRequest" }
func (*SearchResultEntry) OpName() string     { return "searchResEntry" }
func (*SearchResultReference) OpName() string { return "searchResRef" }
func (*SearchResultDone) OpName() string      { return "searchResDone" }
func (*ModifyRequest) OpName() string         { return "modifyRequest" }
func (*ModifyResponse) OpName() string        { return "modifyResponse" }
func (*AddRequest) OpName() string            { return "addRequest" }
func (*AddResponse) OpName() string           { return "addResponse" }
func (*DelRequest) OpName() string            { return "delRequest" }
func (*DelResponse) OpName() string           { return "delResponse" }
func (*ModifyDNRequest) OpName() string       { return "modDNRequest" }
func (*ModifyDNResponse) OpName() string      { return "modDNResponse" }
func (*CompareRequest) OpName() string        { return "compareRequest" }
func (*CompareResponse) OpName() string       { return "compareResponse" }
func (*AbandonRequest) OpName() string        { return "abandonRequest" }
func (*ExtendedRequest) OpName() string       { return "extendedReq" }
func (*ExtendedResponse) OpName() string      { return "extendedResp" }
func (*IntermediateResponse) OpName() string  { return "intermediateResponse" }
