package firebase

import (
	"context"
	stderrors "errors"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/pkg/errors"
)

type fakeVerifier map[string]*auth.Token

func (f fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if tok, ok := f[idToken]; ok {
		return tok, nil
	}
	return nil, stderrors.New("token expired")
}

func TestVerifyTokenMapsClaims(t *testing.T) {
	client := &FirebaseAuthClient{client: fakeVerifier{
		"buyer":  {UID: "u-1", Claims: map[string]interface{}{}},
		"mod":    {UID: "u-2", Claims: map[string]interface{}{"admin": true}},
		"staff":  {UID: "u-3", Claims: map[string]interface{}{"role": "admin"}},
		"sneaky": {UID: "u-4", Claims: map[string]interface{}{"admin": "true"}},
	}}

	cases := map[string]struct {
		uid   string
		admin bool
	}{
		"buyer":  {"u-1", false},
		"mod":    {"u-2", true},
		"staff":  {"u-3", true},
		"sneaky": {"u-4", false},
	}
	for token, want := range cases {
		actor, err := client.VerifyToken(context.Background(), token)
		require.NoError(t, err, token)
		assert.Equal(t, want.uid, actor.UserID, token)
		assert.Equal(t, want.admin, actor.Admin, token)
	}
}

func TestVerifyTokenRejectsUnknown(t *testing.T) {
	client := &FirebaseAuthClient{client: fakeVerifier{}}

	_, err := client.VerifyToken(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.CodeUnauthorized))
}

func TestCredentialsOption(t *testing.T) {
	assert.Nil(t, CredentialsOption("", ""))
	assert.NotNil(t, CredentialsOption(`{"type":"service_account"}`, ""))
	assert.NotNil(t, CredentialsOption("", "/tmp/sa.json"))
}
