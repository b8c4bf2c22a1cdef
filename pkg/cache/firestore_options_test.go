package cache_test

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-presence/pkg/cache"
	"github.com/illmade-knight/go-presence/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestNewFirestorePresenceCache_Validation(t *testing.T) {
	_, err := cache.NewFirestorePresenceCache[string, types.Record](nil, "presence")
	assert.ErrorContains(t, err, "client is required")

	_, err = cache.NewFirestorePresenceCache[string, types.Record](&firestore.Client{}, "")
	assert.ErrorContains(t, err, "collection name is required")
}
