// Package telephony places outbound calls and authenticates provider
// webhooks.
package telephony

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type CallRequest struct {
	To                string
	AnswerURL         string
	StatusCallbackURL string
	DetectMachine     bool
	TimeoutSeconds    int
}

type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
}

type TwilioDialer struct {
	client *twilio.RestClient
	from   string
}

var _ Dialer = &TwilioDialer{}

func NewTwilioDialer(accountSid, authToken, fromNumber string) *TwilioDialer {
	return &TwilioDialer{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}),
		from: fromNumber,
	}
}

// PlaceCall starts an outbound call and returns the provider call SID.
func (d *TwilioDialer) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(d.from)
	params.SetUrl(req.AnswerURL)
	params.SetMethod("POST")
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"answered", "completed"})
	}
	if req.DetectMachine {
		params.SetMachineDetection("Enable")
	}
	if req.TimeoutSeconds > 0 {
		params.SetTimeout(req.TimeoutSeconds)
	}

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio create call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio create call: response has no sid")
	}
	return *resp.Sid, nil
}

// SignatureValidator checks the X-Twilio-Signature header of a webhook.
type SignatureValidator struct {
	validator client.RequestValidator
}

func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: client.NewRequestValidator(authToken)}
}

func (v *SignatureValidator) Validate(fullURL string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(fullURL, params, signature)
}
