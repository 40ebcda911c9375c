package kerberos

import (
	"fmt"
	"time"

	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// PVNO is the only protocol version number accepted on the wire.
const PVNO = 5

// Message types, also the APPLICATION tag numbers of each message.
const (
	MsgTypeASReq    int32 = 10
	MsgTypeASRep    int32 = 11
	MsgTypeTGSReq   int32 = 12
	MsgTypeTGSRep   int32 = 13
	MsgTypeAPReq    int32 = 14
	MsgTypeAPRep    int32 = 15
	MsgTypeKRBError int32 = 30
)

var (
	TagTicket   = tlv.Application(1)
	TagASReq    = tlv.Application(int(MsgTypeASReq))
	TagASRep    = tlv.Application(int(MsgTypeASRep))
	TagTGSReq   = tlv.Application(int(MsgTypeTGSReq))
	TagTGSRep   = tlv.Application(int(MsgTypeTGSRep))
	TagAPReq    = tlv.Application(int(MsgTypeAPReq))
	TagAPRep    = tlv.Application(int(MsgTypeAPRep))
	TagKRBError = tlv.Application(int(MsgTypeKRBError))
)

// Principal name types.
const (
	NTUnknown   int32 = 0
	NTPrincipal int32 = 1
	NTSrvInst   int32 = 2
	NTSrvHst    int32 = 3
)

// ErrorCode is a KRB-ERROR error-code.
type ErrorCode int32

const (
	KDCErrNone              ErrorCode = 0
	KDCErrNameExp           ErrorCode = 1
	KDCErrBadPVNO           ErrorCode = 3
	KDCErrCPrincipalUnknown ErrorCode = 6
	KDCErrSPrincipalUnknown ErrorCode = 7
	KDCErrPolicy            ErrorCode = 12
	KDCErrBadOption         ErrorCode = 13
	KDCErrETypeNoSupport    ErrorCode = 14
	KDCErrPreauthFailed     ErrorCode = 24
	KDCErrPreauthRequired   ErrorCode = 25
	KDCErrSvcUnavailable    ErrorCode = 29
	KRBAPErrBadIntegrity    ErrorCode = 31
	KRBAPErrTktExpired      ErrorCode = 32
	KRBAPErrSkew            ErrorCode = 37
	KRBAPErrMsgType         ErrorCode = 40
	KRBAPErrModified        ErrorCode = 41
	KRBErrResponseTooBig    ErrorCode = 52
	KRBErrGeneric           ErrorCode = 60
	KRBErrFieldTooLong      ErrorCode = 61
	KDCErrClientNotTrusted  ErrorCode = 62
	KDCErrWrongRealm        ErrorCode = 68
)

var errorCodeNames = map[ErrorCode]string{
	KDCErrNone:              "KDC_ERR_NONE",
	KDCErrNameExp:           "KDC_ERR_NAME_EXP",
	KDCErrBadPVNO:           "KDC_ERR_BAD_PVNO",
	KDCErrCPrincipalUnknown: "KDC_ERR_C_PRINCIPAL_UNKNOWN",
	KDCErrSPrincipalUnknown: "KDC_ERR_S_PRINCIPAL_UNKNOWN",
	KDCErrPolicy:            "KDC_ERR_POLICY",
	KDCErrBadOption:         "KDC_ERR_BADOPTION",
	KDCErrETypeNoSupport:    "KDC_ERR_ETYPE_NOSUPP",
	KDCErrPreauthFailed:     "KDC_ERR_PREAUTH_FAILED",
	KDCErrPreauthRequired:   "KDC_ERR_PREAUTH_REQUIRED",
	KDCErrSvcUnavailable:    "KDC_ERR_SVC_UNAVAILABLE",
	KRBAPErrBadIntegrity:    "KRB_AP_ERR_BAD_INTEGRITY",
	KRBAPErrTktExpired:      "KRB_AP_ERR_TKT_EXPIRED",
	KRBAPErrSkew:            "KRB_AP_ERR_SKEW",
	KRBAPErrMsgType:         "KRB_AP_ERR_MSG_TYPE",
	KRBAPErrModified:        "KRB_AP_ERR_MODIFIED",
	KRBErrResponseTooBig:    "KRB_ERR_RESPONSE_TOO_BIG",
	KRBErrGeneric:           "KRB_ERR_GENERIC",
	KRBErrFieldTooLong:      "KRB_ERR_FIELD_TOOLONG",
	KDCErrClientNotTrusted:  "KDC_ERR_CLIENT_NOT_TRUSTED",
	KDCErrWrongRealm:        "KDC_ERR_WRONG_REALM",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("errorCode(%d)", int32(c))
}

// Message is any top-level Kerberos message.
type Message interface {
	encoder.Marshaler
	MsgType() int32
}

type PrincipalName struct {
	NameType   int32
	NameString []string
}

// EncryptedData is an opaque ciphertext with its encryption type.
type EncryptedData struct {
	EType   int32
	KVNO    uint32
	HasKVNO bool
	Cipher  []byte
}

type HostAddress struct {
	AddrType int32
	Address  []byte
}

type PAData struct {
	Type  int32
	Value []byte
}

type Ticket struct {
	Realm   string
	SName   PrincipalName
	EncPart EncryptedData
}

// KDCReqBody is the KDC-REQ-BODY. Zero times are absent optional fields.
type KDCReqBody struct {
	Options           tlv.BitString
	CName             *PrincipalName
	Realm             string
	SName             *PrincipalName
	From              time.Time
	Till              time.Time
	RTime             time.Time
	Nonce             uint32
	ETypes            []int32
	Addresses         []HostAddress
	EncAuthData       *EncryptedData
	AdditionalTickets []Ticket
}

// KDCReq is shared by AS-REQ and TGS-REQ.
type KDCReq struct {
	PAData []PAData
	Body   KDCReqBody
}

type ASReq struct{ KDCReq }

type TGSReq struct{ KDCReq }

// KDCRep is shared by AS-REP and TGS-REP.
type KDCRep struct {
	PAData  []PAData
	CRealm  string
	CName   PrincipalName
	Ticket  Ticket
	EncPart EncryptedData
}

type ASRep struct{ KDCRep }

type TGSRep struct{ KDCRep }

type APReq struct {
	Options       tlv.BitString
	Ticket        Ticket
	Authenticator EncryptedData
}

type APRep struct {
	EncPart EncryptedData
}

// KRBError is the KRB-ERROR message. CUsec is only encoded alongside CTime.
type KRBError struct {
	CTime     time.Time
	CUsec     int32
	STime     time.Time
	SUsec     int32
	ErrorCode ErrorCode
	CRealm    string
	CName     *PrincipalName
	Realm     string
	SName     PrincipalName
	EText     string
	EData     []byte
}

func (*ASReq) MsgType() int32    { return MsgTypeASReq }
func (*TGSReq) MsgType() int32   { return MsgTypeTGSReq }
func (*ASRep) MsgType() int32    { return MsgTypeASRep }
func (*TGSRep) MsgType() int32   { return MsgTypeTGSRep }
func (*APReq) MsgType() int32    { return MsgTypeAPReq }
func (*APRep) MsgType() int32    { return MsgTypeAPRep }
func (*KRBError) MsgType() int32 { return MsgTypeKRBError }
