package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointList(t *testing.T) {
	data := []byte("proxy1.example.com:8080:alice:s3cret\n\n  \nproxy2.example.com:8081:alice:s3cret\n")

	list := ParseEndpointList(data)

	require.Len(t, list.Endpoints, 2)
	assert.Equal(t, "proxy1.example.com:8080", list.Endpoints[0].Server())
	assert.Equal(t, "proxy2.example.com:8081", list.Endpoints[1].Server())
	require.True(t, list.HasCredentials)
	assert.Equal(t, "alice", list.Credentials.Username)
	assert.Equal(t, "s3cret", list.Credentials.Password)
}

func TestParseEndpointListSkipsMalformedLines(t *testing.T) {
	data := []byte(
		"not-a-proxy-line\n" + // wrong field count
			"host.only:8080\n" + // missing credentials fields
			"a:b:c:d:e\n" + // too many fields
			"host.bad:notaport:u:p\n" + // unparseable port
			"good.example.com:3128:bob:hunter2\n",
	)

	list := ParseEndpointList(data)

	require.Len(t, list.Endpoints, 1)
	assert.Equal(t, "good.example.com:3128", list.Endpoints[0].Server())
	assert.Equal(t, "bob", list.Credentials.Username)
}

func TestParseEndpointListEmpty(t *testing.T) {
	list := ParseEndpointList([]byte("\n \n"))

	assert.Empty(t, list.Endpoints)
	assert.False(t, list.HasCredentials)
}

func TestParseEndpointListCredentialsFromFirstLine(t *testing.T) {
	data := []byte("h1:1000:first:pw1\nh2:2000:second:pw2\n")

	list := ParseEndpointList(data)

	assert.Equal(t, "first", list.Credentials.Username)
	assert.Equal(t, "pw1", list.Credentials.Password)
}

func TestParseExclusions(t *testing.T) {
	set := ParseExclusions("bad.example.com, other.example.com:9999 ,, ")

	require.Len(t, set, 2)
	assert.True(t, set.Excluded(Endpoint{Host: "bad.example.com", Port: 1234}))
	assert.True(t, set.Excluded(Endpoint{Host: "other.example.com", Port: 9999}))
	assert.False(t, set.Excluded(Endpoint{Host: "other.example.com", Port: 1111}))
	assert.False(t, set.Excluded(Endpoint{Host: "fine.example.com", Port: 8080}))
}
