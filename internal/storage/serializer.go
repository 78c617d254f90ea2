package storage

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"gorm.io/gorm/schema"
)

// amountSerializer stores uint64 amounts in sqlite's signed 64-bit integer
// column as their two's-complement bit pattern.
type amountSerializer struct{}

func init() {
	schema.RegisterSerializer("amount", amountSerializer{})
}

func (amountSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	var value sql.NullInt64
	if err := value.Scan(dbValue); err != nil {
		return fmt.Errorf("scan amount %s: %w", field.Name, err)
	}
	return field.Set(ctx, dst, uint64(value.Int64))
}

func (amountSerializer) Value(_ context.Context, field *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	amount, ok := fieldValue.(uint64)
	if !ok {
		return nil, fmt.Errorf("amount %s: unsupported type %T", field.Name, fieldValue)
	}
	return int64(amount), nil
}
