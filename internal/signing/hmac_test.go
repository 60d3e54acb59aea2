package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerify(t *testing.T) {
	body := []byte(`{"name":"ada"}`)

	sig := Sign("fsk_secret", 1700000000, body)
	assert.Len(t, sig, 64)
	assert.True(t, Verify("fsk_secret", 1700000000, body, sig))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"name":"ada"}`)
	sig := Sign("fsk_tenant_a", 1700000000, body)

	assert.False(t, Verify("fsk_tenant_b", 1700000000, body, sig))
}

func TestVerifyRejectsTamperedInput(t *testing.T) {
	body := []byte(`{"amount":10}`)
	sig := Sign("fsk_secret", 1700000000, body)

	assert.False(t, Verify("fsk_secret", 1700000000, []byte(`{"amount":99}`), sig))
	assert.False(t, Verify("fsk_secret", 1700000001, body, sig))
	assert.False(t, Verify("fsk_secret", 1700000000, body, ""))
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"k":"v"}`)
	assert.Equal(t, Sign("s", 42, body), Sign("s", 42, body))
}
