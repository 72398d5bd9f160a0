package main

import (
	"fmt"
	"math"
	"sort"

	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/mycocrypto"
	"github.com/rpcpool/myco/tree"
)

// BucketUsage summarizes how full the storage tree's buckets are with
// decryptable messages for one conversation key.
type BucketUsage struct {
	MaxUsage      int
	MaxDepth      int
	TotalMessages int
	TotalBuckets  int
	AverageUsage  float64
	MedianUsage   float64
	StdDev        float64
}

func (u BucketUsage) String() string {
	return fmt.Sprintf(
		"max usage: %d, max depth: %d, average usage: %.2f, median: %.2f, std dev: %.2f",
		u.MaxUsage, u.MaxDepth, u.AverageUsage, u.MedianUsage, u.StdDev,
	)
}

// CalculateBucketUsage walks the bucket tree with its metadata shadow and
// counts, per bucket, the blocks that decrypt under both layers for kMsg.
// In the no-encryption build it counts raw occupancy instead.
func CalculateBucketUsage(
	buckets *tree.Dense[dtypes.Bucket],
	metadata *tree.Dense[dtypes.Metadata],
	kMsg []byte,
) BucketUsage {
	var usage []int
	out := BucketUsage{}

	for _, pair := range tree.ZipDense(buckets, metadata) {
		if pair.Left == nil || pair.Right == nil {
			continue
		}
		bucket, meta := pair.Left, pair.Right

		messagesInBucket := 0
		if mycocrypto.Disabled {
			messagesInBucket = bucket.Len()
		} else {
			for b := 0; b < bucket.Len(); b++ {
				entry, ok := meta.Get(b)
				if !ok {
					continue
				}
				block, _ := bucket.Get(b)
				ct, err := mycocrypto.Decrypt(entry.Key.Bytes(), block)
				if err != nil {
					continue
				}
				if _, err := mycocrypto.Decrypt(kMsg, ct); err == nil {
					messagesInBucket++
				}
			}
		}

		usage = append(usage, messagesInBucket)
		out.TotalMessages += messagesInBucket
		if messagesInBucket > out.MaxUsage {
			out.MaxUsage = messagesInBucket
			out.MaxDepth = len(pair.Path)
		}
	}

	out.TotalBuckets = len(usage)
	if out.TotalBuckets == 0 {
		return out
	}
	out.AverageUsage = float64(out.TotalMessages) / float64(out.TotalBuckets)

	sort.Ints(usage)
	mid := out.TotalBuckets / 2
	if out.TotalBuckets%2 == 0 {
		out.MedianUsage = float64(usage[mid-1]+usage[mid]) / 2
	} else {
		out.MedianUsage = float64(usage[mid])
	}

	variance := 0.0
	for _, x := range usage {
		diff := float64(x) - out.AverageUsage
		variance += diff * diff
	}
	out.StdDev = math.Sqrt(variance / float64(out.TotalBuckets))
	return out
}
