package pipeline

import (
	"context"

	"github.com/me/clusterize/internal/arraystore"
	"github.com/me/clusterize/pkg/model"
)

// Copy extracts the region from the input unchanged.
type Copy struct{}

func (Copy) Name() string { return "copy" }

func (Copy) OutputMeta(in arraystore.Meta) arraystore.Meta { return in }

func (Copy) Compute(ctx context.Context, in *Input, r model.Region) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := in.File.ReadRegion(in.Dataset, r)
	if err != nil {
		return nil, err
	}
	return &Result{Meta: regionMeta(in.Meta, r), Data: data}, nil
}

// Invert flips every element: bitwise complement for integers (max-v for
// unsigned types) and sign flip for floats.
type Invert struct{}

func (Invert) Name() string { return "invert" }

func (Invert) OutputMeta(in arraystore.Meta) arraystore.Meta { return in }

func (Invert) Compute(ctx context.Context, in *Input, r model.Region) (*Result, error) {
	res, err := Copy{}.Compute(ctx, in, r)
	if err != nil {
		return nil, err
	}
	item := in.Meta.DType.ItemSize()
	if in.Meta.DType.IsFloat() {
		// Little-endian: the sign bit lives in the last byte of each element.
		for i := item - 1; i < len(res.Data); i += item {
			res.Data[i] ^= 0x80
		}
	} else {
		for i := range res.Data {
			res.Data[i] = ^res.Data[i]
		}
	}
	return res, nil
}

func regionMeta(in arraystore.Meta, r model.Region) arraystore.Meta {
	return arraystore.Meta{
		Shape: r.Shape(),
		DType: in.DType,
		Axes:  append([]string(nil), in.Axes...),
	}
}
