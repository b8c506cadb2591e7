package utils

import (
	"errors"
	"reflect"
	"testing"
)

type orderInputForTest struct {
	Supplier string `validate:"required"`
	Quantity int    `validate:"gte=1"`
}

func TestProcessValidationErrors(t *testing.T) {
	err := ValidateStruct(orderInputForTest{Quantity: 0})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	got := ProcessValidationErrors(err)
	want := map[string]string{"Supplier": "required", "Quantity": "gte"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	plain := ProcessValidationErrors(errors.New("boom"))
	if plain["_"] != "boom" {
		t.Fatalf("expected plain error under _, got %v", plain)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := SplitAndTrim(" pending, available ,,processed ")
	want := []string{"pending", "available", "processed"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(SplitAndTrim("")) != 0 {
		t.Fatalf("expected empty slice")
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestJwtRoundTrip(t *testing.T) {
	t.Setenv("API_SECRET", "test-secret")
	t.Setenv("TOKEN_HOUR_LIFESPAN", "1")

	token, err := JwtGenerate("ops-lead", "ops")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "ops-lead" || claims.Role != "ops" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	t.Setenv("API_SECRET", "other-secret")
	if _, err := JwtValidate(token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}
