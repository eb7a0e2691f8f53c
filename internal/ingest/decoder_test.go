package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBatch_SkipsMalformedPayloads(t *testing.T) {
	d := NewDecoder(nil)

	raw := []string{
		`{"type":"register","name":"alice"}`,
		`{"type":"garbage"}`,
		`{"type":"register","name":"bob"}`,
	}

	events := d.DecodeBatch(raw)

	require.Len(t, events, 2)
	assert.Equal(t, "alice", events[0].Name)
	assert.Equal(t, "bob", events[1].Name)
}

func TestDecodeBatch_AllFourVariants(t *testing.T) {
	d := NewDecoder(nil)

	raw := []string{
		`{"type":"register","name":"user00001","created_at":"2024-01-01T12:00:00.000Z"}`,
		`{"type":"referral","referredBy":"user00001","user":"user00002","created_at":"2024-01-01T12:00:01.000Z"}`,
		`{"type":"addfriend","user1_name":"user00001","user2_name":"user00002","created_at":"2024-01-01T12:00:02.000Z"}`,
		`{"type":"unfriend","user1_name":"user00001","user2_name":"user00002","created_at":"2024-01-01T12:00:03.000Z"}`,
	}

	events := d.DecodeBatch(raw)
	require.Len(t, events, 4)

	assert.Equal(t, TypeRegister, events[0].Type)
	assert.Equal(t, TypeReferral, events[1].Type)
	assert.Equal(t, "user00001", events[1].ReferredBy)
	assert.Equal(t, TypeAddFriend, events[2].Type)
	assert.Equal(t, TypeUnfriend, events[3].Type)
}

func TestDecodeBatch_ReferredBySnakeCaseSynonym(t *testing.T) {
	d := NewDecoder(nil)
	events := d.DecodeBatch([]string{`{"type":"referral","referred_by":"alice","user":"carol"}`})
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].ReferredBy)
	assert.Equal(t, "carol", events[0].User)
}

func TestDecodeBatch_NameLengthBoundary(t *testing.T) {
	d := NewDecoder(nil)

	okName := strings.Repeat("a", 255)
	tooLong := strings.Repeat("a", 256)

	events := d.DecodeBatch([]string{
		`{"type":"register","name":"` + okName + `"}`,
		`{"type":"register","name":"` + tooLong + `"}`,
	})

	require.Len(t, events, 1)
	assert.Equal(t, okName, events[0].Name)
}

func TestDecodeBatch_EmptyBatchIsNoop(t *testing.T) {
	d := NewDecoder(nil)
	events := d.DecodeBatch(nil)
	assert.Empty(t, events)
}
