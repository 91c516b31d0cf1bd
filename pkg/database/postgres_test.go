package database

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDB_ExposesNoRawPool(t *testing.T) {
	typ := reflect.TypeOf(DB{})
	for i := range typ.NumField() {
		f := typ.Field(i)
		assert.False(t, f.IsExported(), "DB.%s would allow checkouts around the ScopedPool", f.Name)
		assert.False(t, f.Anonymous, "embedded DB.%s promotes its methods", f.Name)
	}
}
