package utils

import (
	"errors"
	"math"
	"testing"
)

func TestSafeAdd(t *testing.T) {
	tests := []struct {
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{0, 0, 0, nil},
		{1, 2, 3, nil},
		{math.MaxUint64, 0, math.MaxUint64, nil},
		{math.MaxUint64 - 1, 1, math.MaxUint64, nil},
		{math.MaxUint64, 1, 0, ErrOverflow},
		{math.MaxUint64 / 2, math.MaxUint64/2 + 2, 0, ErrOverflow},
	}
	for _, tc := range tests {
		got, err := SafeAdd(tc.a, tc.b)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("SafeAdd(%d, %d) error = %v, want %v", tc.a, tc.b, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("SafeAdd(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSafeSub(t *testing.T) {
	tests := []struct {
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{0, 0, 0, nil},
		{3, 2, 1, nil},
		{math.MaxUint64, math.MaxUint64, 0, nil},
		{0, 1, 0, ErrUnderflow},
		{100, 101, 0, ErrUnderflow},
	}
	for _, tc := range tests {
		got, err := SafeSub(tc.a, tc.b)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("SafeSub(%d, %d) error = %v, want %v", tc.a, tc.b, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("SafeSub(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSafeMul(t *testing.T) {
	tests := []struct {
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{0, 0, 0, nil},
		{0, math.MaxUint64, 0, nil},
		{math.MaxUint64, 0, 0, nil},
		{3, 4, 12, nil},
		{math.MaxUint64, 1, math.MaxUint64, nil},
		{math.MaxUint64 / 2, 2, math.MaxUint64 - 1, nil},
		{math.MaxUint64, 2, 0, ErrOverflow},
		{1 << 32, 1 << 32, 0, ErrOverflow},
	}
	for _, tc := range tests {
		got, err := SafeMul(tc.a, tc.b)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("SafeMul(%d, %d) error = %v, want %v", tc.a, tc.b, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("SafeMul(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestFeeOf(t *testing.T) {
	tests := []struct {
		amount, rateBP uint64
		want           uint64
		wantErr        error
	}{
		{0, 100, 0, nil},
		{600, 100, 6, nil},         // 1% of 600
		{400, 100, 4, nil},         // 1% of 400
		{999, 100, 9, nil},         // 向下取整
		{1, 9999, 0, nil},          // 不足一个单位取零
		{10000, 10000, 10000, nil}, // 100%
		{10000, 0, 0, nil},
		{math.MaxUint64, 10000, 0, ErrOverflow},
	}
	for _, tc := range tests {
		got, err := FeeOf(tc.amount, tc.rateBP)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("FeeOf(%d, %d) error = %v, want %v", tc.amount, tc.rateBP, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("FeeOf(%d, %d) = %d, want %d", tc.amount, tc.rateBP, got, tc.want)
		}
	}
}

func TestFeeNeverExceedsAmount(t *testing.T) {
	amounts := []uint64{1, 99, 100, 333, 1000, 99999}
	rates := []uint64{0, 1, 100, 2500, 9999, 10000}
	for _, amount := range amounts {
		for _, rate := range rates {
			fee, err := FeeOf(amount, rate)
			if err != nil {
				t.Fatalf("FeeOf(%d, %d) unexpected error: %v", amount, rate, err)
			}
			if fee > amount {
				t.Errorf("FeeOf(%d, %d) = %d exceeds amount", amount, rate, fee)
			}
		}
	}
}
