package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "campaign:slug:spring-sale", Key("campaign:slug", "spring-sale"))
	assert.Equal(t, "distribution:id:d1", Key("distribution:id", "d1"))
}
