package unit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallAddress calls a method returning a single address.
func CallAddress(ctx context.Context, h Handle, method string, args ...any) (common.Address, error) {
	v, err := callOne(ctx, h, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s.%s returned %T", ErrUnexpectedResult, h.Name(), method, v)
	}
	return addr, nil
}

// CallBool calls a method returning a single bool.
func CallBool(ctx context.Context, h Handle, method string, args ...any) (bool, error) {
	v, err := callOne(ctx, h, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s returned %T", ErrUnexpectedResult, h.Name(), method, v)
	}
	return b, nil
}

// CallBigInt calls a method returning a single integer.
func CallBigInt(ctx context.Context, h Handle, method string, args ...any) (*big.Int, error) {
	v, err := callOne(ctx, h, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s returned %T", ErrUnexpectedResult, h.Name(), method, v)
	}
	return n, nil
}

// CallBytes32 calls a method returning a single bytes32.
func CallBytes32(ctx context.Context, h Handle, method string, args ...any) ([32]byte, error) {
	v, err := callOne(ctx, h, method, args...)
	if err != nil {
		return [32]byte{}, err
	}
	b, ok := v.([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: %s.%s returned %T", ErrUnexpectedResult, h.Name(), method, v)
	}
	return b, nil
}

func callOne(ctx context.Context, h Handle, method string, args ...any) (any, error) {
	out, err := h.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s.%s returned %d values", ErrUnexpectedResult, h.Name(), method, len(out))
	}
	return out[0], nil
}
