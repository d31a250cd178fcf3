package bucketing

import (
	"hash"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads accounts over a fixed number of storage
// partitions. The mapping must never change for a deployed keyspace.
type BucketingManager struct {
	userBuckets int
	hasherPool  sync.Pool
}

func NewBucketingManager(userBuckets int) *BucketingManager {
	if userBuckets <= 0 {
		userBuckets = 1
	}
	bm := &BucketingManager{userBuckets: userBuckets}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns the partition (0 to userBuckets-1) holding userID.
func (bm *BucketingManager) GetUserBucket(userID int64) int {
	return bm.getBucket(strconv.FormatInt(userID, 10), bm.userBuckets)
}

// GroupByBucket partitions ids so each group can be written to one
// partition.
func (bm *BucketingManager) GroupByBucket(userIDs []int64) map[int][]int64 {
	groups := make(map[int][]int64)
	for _, id := range userIDs {
		b := bm.GetUserBucket(id)
		groups[b] = append(groups[b], id)
	}
	return groups
}

func (bm *BucketingManager) GetUserBuckets() int {
	return bm.userBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	h := bm.getHash(key)
	return int(h % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
