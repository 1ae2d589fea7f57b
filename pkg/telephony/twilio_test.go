package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(token, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := url
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidator(t *testing.T) {
	const token = "auth-token"
	url := "https://calls.example.com/api/telephony/turn/abc"
	params := map[string]string{"CallSid": "CA123", "SpeechResult": "Tomorrow at 2pm"}

	v := NewSignatureValidator(token)

	assert.True(t, v.Validate(url, params, sign(token, url, params)))
	assert.False(t, v.Validate(url, params, sign("other-token", url, params)))
	assert.False(t, v.Validate(url, map[string]string{"CallSid": "CA999"}, sign(token, url, params)))
	assert.False(t, v.Validate(url, params, ""))
}
