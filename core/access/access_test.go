package access

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenRoundTrip(t *testing.T) {
	j := NewJWT("test-secret")
	token, err := j.Create("rec1", "users", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	result := j.Verify(token)
	if !result.Verified {
		t.Fatal("token did not verify:", result.Err)
	}
	assert.Equal(t, "rec1", result.ID)
	assert.Equal(t, "users", result.Table)
}

func TestExpiredToken(t *testing.T) {
	j := NewJWT("test-secret")
	token, err := j.Create("rec1", "users", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	result := j.Verify(token)
	if result.Verified {
		t.Fatal("expired token must not verify")
	}
	assert.Equal(t, "token is expired", result.Err.Error())
}

func TestForgedToken(t *testing.T) {
	token, err := NewJWT("secret-a").Create("rec1", "users", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	result := NewJWT("secret-b").Verify(token)
	if result.Verified {
		t.Fatal("token signed with another secret must not verify")
	}
	assert.Equal(t, "token signature does not match", result.Err.Error())
}

func TestMalformedToken(t *testing.T) {
	result := NewJWT("test-secret").Verify("this.is.garbage")
	if result.Verified {
		t.Fatal("garbage must not verify")
	}
	if !strings.Contains(result.Err.Error(), "malformed") {
		t.Fatal("unexpected reason:", result.Err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("password was not hashed")
	}
	assert.True(t, CheckPassword(hash, "s3cret-pass"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("", "s3cret-pass"))
}

func TestAuthContext(t *testing.T) {
	ctx := context.Background()
	guest := AuthFromContext(ctx)
	assert.Equal(t, TypeGuest, guest.Type)
	assert.False(t, guest.IsAdmin())

	admin := &Auth{Type: TypeAdmin, ID: "a1", Table: AdminTable}
	ctx = ContextWithAuth(ctx, admin)
	assert.True(t, AuthFromContext(ctx).IsAdmin())

	env := admin.RuleEnv()
	assert.Equal(t, TypeAdmin, env["type"])
	assert.Equal(t, "a1", env["id"])
}
