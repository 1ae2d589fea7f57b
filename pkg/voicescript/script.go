// Package voicescript models the ordered call-control instructions returned
// to the telephony provider for one webhook turn, and renders them as TwiML.
package voicescript

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

type Kind string

const (
	KindSay           Kind = "say"
	KindListen        Kind = "listen"
	KindRedirect      Kind = "redirect"
	KindHangup        Kind = "hangup"
	KindPause         Kind = "pause"
	KindConnectStream Kind = "connect_stream"
)

// TimedOutParam is added to the action URL a Listen falls through to when
// the caller says nothing before the gather timeout.
const TimedOutParam = "timedOut"

var ErrEmptyScript = errors.New("voicescript: empty script")

type Directive struct {
	Kind    Kind
	Text    string            // Say
	Action  string            // Listen, Redirect
	Timeout int               // Listen, seconds
	Seconds int               // Pause
	URL     string            // ConnectStream
	Params  map[string]string // ConnectStream custom parameters
}

type Script []Directive

func Say(text string) Directive { return Directive{Kind: KindSay, Text: text} }

// Listen gathers speech and posts it to action. On timeout the provider
// falls through to a redirect carrying TimedOutParam.
func Listen(action string, timeoutSeconds int) Directive {
	return Directive{Kind: KindListen, Action: action, Timeout: timeoutSeconds}
}

func Redirect(action string) Directive { return Directive{Kind: KindRedirect, Action: action} }

func Hangup() Directive { return Directive{Kind: KindHangup} }

func Pause(seconds int) Directive { return Directive{Kind: KindPause, Seconds: seconds} }

func ConnectStream(streamURL string, params map[string]string) Directive {
	return Directive{Kind: KindConnectStream, URL: streamURL, Params: params}
}

func New(directives ...Directive) Script { return Script(directives) }

func (s Script) EndsInHangup() bool {
	return len(s) > 0 && s[len(s)-1].Kind == KindHangup
}

// Spoken joins every Say directive, mostly for transcripts and logs.
func (s Script) Spoken() []string {
	var out []string
	for _, d := range s {
		if d.Kind == KindSay {
			out = append(out, d.Text)
		}
	}
	return out
}

// Renderer turns a Script into TwiML. Resolve maps action refs to absolute
// callback URLs.
type Renderer struct {
	Resolve  func(action string) string
	Voice    string
	Language string
}

func (r Renderer) Render(s Script) (string, error) {
	if len(s) == 0 {
		return "", ErrEmptyScript
	}

	elements := make([]twiml.Element, 0, len(s)+1)
	for _, d := range s {
		switch d.Kind {
		case KindSay:
			elements = append(elements, r.say(d.Text))
		case KindListen:
			action := r.resolve(d.Action)
			// Speech is played before the gather opens, so the caller cannot
			// interrupt the agent mid-sentence.
			elements = append(elements,
				&twiml.VoiceGather{
					Input:         "speech",
					Action:        action,
					Method:        "POST",
					Timeout:       strconv.Itoa(d.Timeout),
					SpeechTimeout: "auto",
					Language:      r.Language,
				},
				&twiml.VoiceRedirect{Url: withTimedOut(action), Method: "POST"},
			)
		case KindRedirect:
			elements = append(elements, &twiml.VoiceRedirect{Url: r.resolve(d.Action), Method: "POST"})
		case KindHangup:
			elements = append(elements, &twiml.VoiceHangup{})
		case KindPause:
			elements = append(elements, &twiml.VoicePause{Length: strconv.Itoa(d.Seconds)})
		case KindConnectStream:
			params := make([]twiml.Element, 0, len(d.Params))
			for name, value := range d.Params {
				params = append(params, &twiml.VoiceParameter{Name: name, Value: value})
			}
			elements = append(elements, &twiml.VoiceConnect{
				InnerElements: []twiml.Element{
					&twiml.VoiceStream{Url: d.URL, InnerElements: params},
				},
			})
		default:
			return "", errors.New("voicescript: unknown directive " + string(d.Kind))
		}
	}

	return twiml.Voice(elements)
}

func (r Renderer) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: r.Voice, Language: r.Language}
}

func (r Renderer) resolve(action string) string {
	if r.Resolve == nil {
		return action
	}
	return r.Resolve(action)
}

func withTimedOut(action string) string {
	u, err := url.Parse(action)
	if err != nil {
		return action
	}
	q := u.Query()
	q.Set(TimedOutParam, "true")
	u.RawQuery = q.Encode()
	return u.String()
}
