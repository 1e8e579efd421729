package formsource

import (
	"strconv"
	"strings"

	"github.com/opsboard/leadsync/internal/lead"
)

// FieldRefs names the provider-side field refs the mapper reads. The zero
// value of any entry simply yields an empty fact; nothing here can fail.
type FieldRefs struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Company       string
	Message       string
	RequesterType string
	Motive        string
	Address       string
	AddressLine2  string
	City          string
	PostalCode    string
	StateRegion   string
	Department    string
	Country       string
	NetworkID     string
	// NetworkIDFallback is tried when NetworkID is absent; older form
	// versions exposed the cross-reference id under a different ref.
	NetworkIDFallback string
}

// DefaultFieldRefs returns the production form's refs.
func DefaultFieldRefs() FieldRefs {
	return FieldRefs{
		FirstName:         "976acafa-220b-444d-b598-92ab2d62ab56",
		LastName:          "84367289-8128-48ef-916e-6a4f9bdcbabb",
		Email:             "d195deac-b331-4532-95cb-60885a5ffe02",
		Phone:             "accebdb7-b799-4662-bd66-191f06910b78",
		Company:           "706b2940-2868-49e5-8e46-8de8d2885c0a",
		Message:           "8e330c5e-7d38-42c5-bb81-d49a676f1a10",
		RequesterType:     "444b183b-c91d-4fbd-b31d-b00c3839392a",
		Motive:            "c63c2c72-7f04-41b6-b0e6-cfe5c5db1e5c",
		Address:           "40cb8991-6622-4755-a410-10df28f27570",
		AddressLine2:      "address_line_2",
		City:              "9949e625-2a58-4db9-9b63-53af19fdbde6",
		PostalCode:        "4e2fbe67-b13a-4d97-8788-98fab85601bd",
		StateRegion:       "9c154787-a439-4401-bdf4-a45db97b91a7",
		Department:        "9c154787-a439-4401-bdf4-a45db97b91a7",
		Country:           "e11fd014-2917-409c-8097-4918e4e69fa6",
		NetworkID:         "hidden_network_id",
		NetworkIDFallback: "network_id",
	}
}

// AnswerValues flattens a response's answers into ref -> value. Keys are the
// field ref, falling back to the field id when the ref is empty. Address
// answers contribute their line_1 under the plain key and the remaining
// parts under "<key>.<part>" keys.
func AnswerValues(answers []Answer) map[string]string {
	values := make(map[string]string, len(answers))
	for _, answer := range answers {
		key := answer.Field.Ref
		if key == "" {
			key = answer.Field.ID
		}
		if key == "" {
			continue
		}
		if answer.Address != nil {
			values[key] = answer.Address.Line1
			values[key+".line_2"] = answer.Address.Line2
			values[key+".city"] = answer.Address.City
			values[key+".state"] = answer.Address.State
			values[key+".zip"] = answer.Address.Zip
			values[key+".country"] = answer.Address.Country
			continue
		}
		values[key] = answerValue(answer)
	}
	return values
}

func answerValue(answer Answer) string {
	if answer.Type == "choice" && answer.Choice != nil && answer.Choice.Label != "" {
		return answer.Choice.Label
	}
	switch {
	case answer.Text != "":
		return answer.Text
	case answer.Email != "":
		return answer.Email
	case answer.PhoneNumber != "":
		return answer.PhoneNumber
	case answer.Number != nil:
		return strconv.FormatFloat(*answer.Number, 'f', -1, 64)
	case answer.Boolean != nil:
		return strconv.FormatBool(*answer.Boolean)
	}
	return ""
}

// MapResponse builds a lead's submission facts from one response. Workflow
// fields are left at their zero values; the reconciler owns those.
func MapResponse(refs FieldRefs, resp Response) lead.Lead {
	values := AnswerValues(resp.Answers)

	firstName := values[refs.FirstName]
	lastName := values[refs.LastName]
	email := values[refs.Email]
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		name = email
	}

	addressLine2 := values[refs.AddressLine2]
	if addressLine2 == "" && refs.Address != "" {
		addressLine2 = values[refs.Address+".line_2"]
	}
	networkID := values[refs.NetworkID]
	if networkID == "" {
		networkID = values[refs.NetworkIDFallback]
	}

	return lead.Lead{
		ResponseID:    resp.Token,
		FormID:        resp.FormID,
		SubmittedAt:   resp.SubmittedAt,
		Name:          name,
		FirstName:     firstName,
		LastName:      lastName,
		Email:         email,
		Phone:         values[refs.Phone],
		Company:       values[refs.Company],
		Message:       values[refs.Message],
		RequesterType: values[refs.RequesterType],
		Motive:        values[refs.Motive],
		Address:       values[refs.Address],
		AddressLine2:  addressLine2,
		City:          values[refs.City],
		PostalCode:    values[refs.PostalCode],
		StateRegion:   values[refs.StateRegion],
		Department:    values[refs.Department],
		Country:       values[refs.Country],
		NetworkID:     networkID,
		RawData:       resp.Raw,
	}
}
