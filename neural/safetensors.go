package neural

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
)

// Parameter bundles are written in the safetensors format: a little-endian
// uint64 header length, a JSON header mapping tensor names to dtype, shape,
// and byte offsets, then the raw little-endian float32 payload.

type safeTensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets []int  `json:"data_offsets"`
}

func WriteSafeTensors(w io.Writer, tensors map[string]*Mat32) error {
	header := map[string]safeTensorInfo{}
	dataOffset := 0

	keys := []string{}
	for k := range tensors {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		begin := dataOffset
		dataOffset += len(tensors[k].V) * 4
		end := dataOffset

		header[k] = safeTensorInfo{
			DType:       "F32",
			Shape:       []int{tensors[k].Rows, tensors[k].Cols},
			DataOffsets: []int{begin, end},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("while marshaling header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return fmt.Errorf("while writing header length: %w", err)
	}

	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("while writing header: %w", err)
	}

	for _, k := range keys {
		if err := binary.Write(w, binary.LittleEndian, tensors[k].V); err != nil {
			return fmt.Errorf("while writing %s values: %w", k, err)
		}
	}

	return nil
}

func ReadSafeTensors(r io.Reader) (map[string]*Mat32, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("while reading header length: %w", err)
	}

	headerBytes := make([]byte, int(headerLen))
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("while reading header: %w", err)
	}

	header := map[string]safeTensorInfo{}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("while parsing header: %w", err)
	}

	// Tensors must be read in offset order, since r may not be seekable.
	keys := []string{}
	for k := range header {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return header[a].DataOffsets[0] - header[b].DataOffsets[0]
	})

	tensors := map[string]*Mat32{}
	for _, k := range keys {
		hdr := header[k]
		if hdr.DType != "F32" {
			return nil, fmt.Errorf("unsupported dtype %s", hdr.DType)
		}
		if len(hdr.Shape) != 2 {
			return nil, fmt.Errorf("unsupported shape %v", hdr.Shape)
		}
		if hdr.Shape[0] < 1 || hdr.Shape[1] < 1 {
			return nil, fmt.Errorf("bad shape %v", hdr.Shape)
		}

		tensor := MakeMat32(hdr.Shape[0], hdr.Shape[1])

		valBytes := make([]byte, len(tensor.V)*4)
		if _, err := io.ReadFull(r, valBytes); err != nil {
			return nil, fmt.Errorf("while reading bytes for %s: %w", k, err)
		}
		for i := range tensor.V {
			tensor.V[i] = math.Float32frombits(binary.LittleEndian.Uint32(valBytes[i*4:]))
		}

		tensors[k] = tensor
	}

	return tensors, nil
}
