package hl7

import "strings"

// Acknowledgment codes returned by the registry, plus the synthetic kinds
// the transmitter produces when no real acknowledgment was obtained.
const (
	AckAccept = "AA" // application accept
	AckError  = "AE" // application error
	AckReject = "AR" // application reject

	AckRejectError  = "RE" // non-2xx transport response
	AckConnectError = "CE" // transport failure
	AckParseError   = "PE" // unreadable acknowledgment body
	AckUnknown      = "UE" // no MSA segment found
)

// Ack is the interpreted acknowledgment of one transmission.
type Ack struct {
	Kind        string
	ErrorDetail string
}

// Accepted reports whether the registry accepted the message.
func (a Ack) Accepted() bool {
	return a.Kind == AckAccept
}

// ParseAck locates the MSA segment in an acknowledgment body and reads its
// second field as the ack code. Error detail is pulled from the fourth field
// of any ERR segments, joined by newline.
func ParseAck(body string) Ack {
	ack := Ack{Kind: AckUnknown}

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		fields := strings.Split(line, fieldSeparator)
		switch {
		case strings.HasPrefix(line, "MSA"+fieldSeparator):
			if len(fields) >= 2 && fields[1] != "" {
				ack.Kind = fields[1]
			}
		case strings.HasPrefix(line, "ERR"+fieldSeparator):
			if len(fields) >= 4 && fields[3] != "" {
				if ack.ErrorDetail != "" {
					ack.ErrorDetail += "\n"
				}
				ack.ErrorDetail += fields[3]
			}
		}
	}

	return ack
}
