package registry

import (
	"encoding/json"
	"sort"

	"github.com/morezero/peer-services/pkg/exchange"
)

// RequestDescriptor describes an outbound request to create.
type RequestDescriptor struct {
	Peer             string               `json:"peer"`
	TargetService    string               `json:"targetService"`
	InitiatorService string               `json:"initiatorService"`
	RequestType      exchange.RequestType `json:"requestType"`
	Attributes       map[string]string    `json:"attributes,omitempty"`
	Body             string               `json:"body,omitempty"`

	// Extra holds properties the descriptor does not know. A descriptor
	// with extra properties is rejected.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownDescriptorFields = map[string]bool{
	"peer":             true,
	"targetService":    true,
	"initiatorService": true,
	"requestType":      true,
	"attributes":       true,
	"body":             true,
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (d *RequestDescriptor) UnmarshalJSON(data []byte) error {
	type plain RequestDescriptor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownDescriptorFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}

	*d = RequestDescriptor(p)
	return nil
}

func (d RequestDescriptor) extraNames() []string {
	out := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d RequestDescriptor) payload() exchange.Payload {
	return exchange.Payload{
		TargetService:    d.TargetService,
		InitiatorService: d.InitiatorService,
		RequestType:      d.RequestType,
		Attributes:       d.Attributes,
		Body:             d.Body,
	}
}
