package cart

import (
	"context"
	"fmt"
	"strconv"

	"github.com/freshmart/go-storefront/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Store reads and trims the per-user cart hash (cart:{user_id} -> sku_id: qty).
// The cart itself is owned by the browsing surface; checkout only consumes
// selected entries and deletes exactly what it consumed.
type Store struct{ RDB *redis.Client }

var ErrEntryMissing = fmt.Errorf("cart entry missing")

func key(userID int64) string { return fmt.Sprintf(redisx.KeyCart, userID) }

// Quantity returns the desired quantity for one SKU, ErrEntryMissing if the
// user's cart has no entry for it.
func (s *Store) Quantity(ctx context.Context, userID, skuID int64) (int64, error) {
	v, err := s.RDB.HGet(ctx, key(userID), strconv.FormatInt(skuID, 10)).Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%w: user=%d sku=%d", ErrEntryMissing, userID, skuID)
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt cart entry user=%d sku=%d: %w", userID, skuID, err)
	}
	return n, nil
}

// RemoveEntries deletes exactly the given SKU fields; other entries survive.
func (s *Store) RemoveEntries(ctx context.Context, userID int64, skuIDs []int64) error {
	if len(skuIDs) == 0 {
		return nil
	}
	fields := make([]string, 0, len(skuIDs))
	for _, id := range skuIDs {
		fields = append(fields, strconv.FormatInt(id, 10))
	}
	return s.RDB.HDel(ctx, key(userID), fields...).Err()
}

// SetQuantity is used by seeding/admin tooling and tests; the storefront cart
// surface writes the same hash from its own service.
func (s *Store) SetQuantity(ctx context.Context, userID, skuID, qty int64) error {
	return s.RDB.HSet(ctx, key(userID), strconv.FormatInt(skuID, 10), qty).Err()
}
