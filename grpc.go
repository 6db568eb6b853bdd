package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/akhenakh/predraster/dataset"
	"github.com/akhenakh/predraster/render"
)

const rasterServiceName = "predraster.v1.RasterService"

// RasterServiceServer is the gRPC raster service. Messages are protobuf well-known
// types: dataset descriptions are Structs and pixel buffers BytesValues. ReadBlock and
// ReadRegion take a Struct holding "dataset", "band" and the block or window fields.
type RasterServiceServer interface {
	ListDatasets(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetDataset(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ReadBlock(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	ReadRegion(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
}

// rasterServiceDesc describes RasterServiceServer to grpc.Server.RegisterService.
var rasterServiceDesc = grpc.ServiceDesc{
	ServiceName: rasterServiceName,
	HandlerType: (*RasterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListDatasets", Handler: unaryHandler("ListDatasets", RasterServiceServer.ListDatasets)},
		{MethodName: "GetDataset", Handler: unaryHandler("GetDataset", RasterServiceServer.GetDataset)},
		{MethodName: "ReadBlock", Handler: unaryHandler("ReadBlock", RasterServiceServer.ReadBlock)},
		{MethodName: "ReadRegion", Handler: unaryHandler("ReadRegion", RasterServiceServer.ReadRegion)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "predraster/v1/raster.proto",
}

func unaryHandler[Req any, Resp any](method string, call func(RasterServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + rasterServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RasterServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RasterServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server implements RasterServiceServer over a registry.
type Server struct {
	registry *registry
	logger   *slog.Logger
}

func (s *Server) ListDatasets(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	infos := make([]any, 0, len(s.registry.names))
	for _, name := range s.registry.names {
		info, err := describe(ctx, name, s.registry.datasets[name], s.logger)
		if err != nil {
			return nil, grpcError(err)
		}
		v, err := toValue(info)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encoding dataset %s: %v", name, err)
		}
		infos = append(infos, v)
	}
	out, err := structpb.NewStruct(map[string]any{"datasets": infos})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding datasets: %v", err)
	}
	return out, nil
}

func (s *Server) GetDataset(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ds, err := s.registry.dataset(req.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	info, err := describe(ctx, req.GetValue(), ds, s.logger)
	if err != nil {
		return nil, grpcError(err)
	}
	v, err := toValue(info)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding dataset: %v", err)
	}
	out, err := structpb.NewStruct(v.(map[string]any))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding dataset: %v", err)
	}
	return out, nil
}

// ReadBlock returns the raw block; the "x-block-found" response header tells whether a
// tile covered it.
func (s *Server) ReadBlock(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	b, err := s.band(req)
	if err != nil {
		return nil, err
	}
	col, err := intField(req, "col", nil)
	if err != nil {
		return nil, err
	}
	row, err := intField(req, "row", nil)
	if err != nil {
		return nil, err
	}

	bw, bh := b.BlockSize()
	buf := make([]byte, b.DataType().BufferSize(bw*bh))
	found, err := b.ReadBlock(ctx, col, row, buf)
	if err != nil {
		return nil, grpcError(err)
	}
	if err := grpc.SetHeader(ctx, metadata.Pairs("x-block-found", strconv.FormatBool(found))); err != nil {
		s.logger.Debug("setting block header failed", "error", err)
	}
	return wrapperspb.Bytes(buf), nil
}

// ReadRegion renders a window, rows bottom-up. "width" and "height" default to the
// window size.
func (s *Server) ReadRegion(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	b, err := s.band(req)
	if err != nil {
		return nil, err
	}
	zero := 0
	win := dataset.Window{BufType: b.DataType()}
	if win.XOff, err = intField(req, "xoff", &zero); err != nil {
		return nil, err
	}
	if win.YOff, err = intField(req, "yoff", &zero); err != nil {
		return nil, err
	}
	if win.XSize, err = intField(req, "xsize", nil); err != nil {
		return nil, err
	}
	if win.YSize, err = intField(req, "ysize", nil); err != nil {
		return nil, err
	}
	if win.BufWidth, err = intField(req, "width", &win.XSize); err != nil {
		return nil, err
	}
	if win.BufHeight, err = intField(req, "height", &win.YSize); err != nil {
		return nil, err
	}
	if v, ok := req.GetFields()["algorithm"]; ok {
		if win.Algorithm, err = render.ParseAlgorithm(v.GetStringValue()); err != nil {
			return nil, grpcError(err)
		}
	}

	buf := make([]byte, b.DataType().BufferSize(win.BufWidth*win.BufHeight))
	if err := b.ReadRegion(ctx, win, buf); err != nil {
		return nil, grpcError(err)
	}
	return wrapperspb.Bytes(buf), nil
}

func (s *Server) band(req *structpb.Struct) (*dataset.Band, error) {
	name := req.GetFields()["dataset"].GetStringValue()
	one := 1
	index, err := intField(req, "band", &one)
	if err != nil {
		return nil, err
	}
	b, err := s.registry.band(name, index)
	if err != nil {
		return nil, grpcError(err)
	}
	return b, nil
}

// intField reads an integral number field, def when absent; a nil def makes the field
// required.
func intField(req *structpb.Struct, key string, def *int) (int, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		if def == nil {
			return 0, status.Errorf(codes.InvalidArgument, "missing field %q", key)
		}
		return *def, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, status.Errorf(codes.InvalidArgument, "field %q must be an integer", key)
	}
	return int(n.NumberValue), nil
}

// toValue converts v to the generic JSON form structpb accepts.
func toValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func grpcError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, errUnknownDataset), errors.Is(err, errUnknownBand):
		code = codes.NotFound
	case errors.Is(err, dataset.ErrReadOnly):
		code = codes.PermissionDenied
	case errors.Is(err, dataset.ErrInvalidArgument),
		errors.Is(err, dataset.ErrUnsupportedBuffer),
		errors.Is(err, dataset.ErrNonUniformResolution),
		errors.Is(err, render.ErrUnsupportedAlgorithm):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, fmt.Sprint(err))
}
