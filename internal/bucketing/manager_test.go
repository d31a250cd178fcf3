package bucketing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUserBucket_StableAndInRange(t *testing.T) {
	bm := NewBucketingManager(16)

	for id := int64(1); id < 1000; id++ {
		b := bm.GetUserBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 16)
		assert.Equal(t, b, bm.GetUserBucket(id))
	}
}

func TestGroupByBucket(t *testing.T) {
	bm := NewBucketingManager(4)
	ids := []int64{10, 20, 30, 40, 50, 60}

	groups := bm.GroupByBucket(ids)

	total := 0
	for bucket, members := range groups {
		for _, id := range members {
			assert.Equal(t, bucket, bm.GetUserBucket(id))
		}
		total += len(members)
	}
	assert.Equal(t, len(ids), total)
}

func TestNewBucketingManager_ClampsZero(t *testing.T) {
	bm := NewBucketingManager(0)
	assert.Equal(t, 1, bm.GetUserBuckets())
	assert.Equal(t, 0, bm.GetUserBucket(42))
}
