package utils

import (
	"errors"
)

// 基点精度分母，10000基点 = 100%
const MaxBasisPoints uint64 = 10000

var (
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrUnderflow = errors.New("arithmetic underflow")
)

// SafeAdd 无符号加法，溢出返回错误而不是回绕
func SafeAdd(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SafeSub 无符号减法，结果为负返回错误而不是截断到零
func SafeSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// SafeMul 无符号乘法，溢出返回错误
func SafeMul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > ^uint64(0)/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// FeeOf 按基点计算手续费，向下取整：floor(amount * rateBP / 10000)
func FeeOf(amount, rateBP uint64) (uint64, error) {
	product, err := SafeMul(amount, rateBP)
	if err != nil {
		return 0, err
	}
	return product / MaxBasisPoints, nil
}
