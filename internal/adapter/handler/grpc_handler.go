package handler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/dealership/internal/auth"
	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/core/service"
)

const CheckoutServiceName = "dealership.checkout.v1.CheckoutService"

// CheckoutServer exchanges google.protobuf.Struct messages carrying the same
// JSON shapes as the HTTP API.
type CheckoutServer interface {
	CreateIntent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CompletePurchase(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var CheckoutServiceDesc = grpc.ServiceDesc{
	ServiceName: CheckoutServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateIntent", Handler: unaryHandler("CreateIntent", CheckoutServer.CreateIntent)},
		{MethodName: "CompletePurchase", Handler: unaryHandler("CompletePurchase", CheckoutServer.CompletePurchase)},
		{MethodName: "GetSale", Handler: unaryHandler("GetSale", CheckoutServer.GetSale)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dealership/checkout/v1/checkout.proto",
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}

func unaryHandler(method string, call func(CheckoutServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + CheckoutServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CheckoutServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(CheckoutServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type GRPCHandler struct {
	checkout Checkout
	sales    Sales
	logger   *zap.Logger
}

func NewGRPCHandler(checkout Checkout, sales Sales, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{checkout: checkout, sales: sales, logger: logger}
}

func (h *GRPCHandler) CreateIntent(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in PaymentIntentRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	user, _ := auth.UserFromContext(ctx)
	res, err := h.checkout.CreateIntent(ctx, user, service.CreateIntentInput{
		CarIDs:          in.CarIDs,
		DeliveryAddress: in.DeliveryAddress,
		PaymentType:     domain.PaymentType(in.PaymentType),
	})
	if err != nil {
		return nil, h.toStatus("CreateIntent", err)
	}
	return toStruct(PaymentIntentResponse{
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
		SaleID:          res.SaleID,
		Amount:          res.Amount,
		Currency:        res.Currency,
	})
}

func (h *GRPCHandler) CompletePurchase(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in CompletePurchaseRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	user, _ := auth.UserFromContext(ctx)
	res, err := h.checkout.CompletePurchase(ctx, user, in.toInput())
	if err != nil {
		return nil, h.toStatus("CompletePurchase", err)
	}
	for _, warn := range res.Warnings {
		h.logger.Warn("purchase follow-up failed",
			zap.String("sale_id", res.Sale.ID),
			zap.String("effect", warn.Effect),
			zap.Error(warn.Err),
		)
	}
	return toStruct(newPurchaseResponse(res))
}

func (h *GRPCHandler) GetSale(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, h.toStatus("GetSale", &domain.ValidationError{Field: "id", Reason: "is required"})
	}
	user, _ := auth.UserFromContext(ctx)
	sale, err := h.sales.GetSale(ctx, user, id)
	if err != nil {
		return nil, h.toStatus("GetSale", err)
	}
	return toStruct(newSaleResponse(sale))
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	m, known := classify(err)
	if !known {
		h.logger.Error("grpc call failed", zap.String("method", method), zap.Error(err))
	} else if errors.Is(err, domain.ErrGateway) {
		h.logger.Warn("payment gateway call failed", zap.String("method", method), zap.Error(err))
	}
	return status.Error(m.code, m.message)
}

func fromStruct(s *structpb.Struct, dst interface{}) error {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed request")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return status.Error(codes.InvalidArgument, "malformed request")
	}
	return nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckoutClient calls CheckoutService over an established connection.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) CreateIntent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CreateIntent", in, opts...)
}

func (c *CheckoutClient) CompletePurchase(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CompletePurchase", in, opts...)
}

func (c *CheckoutClient) GetSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSale", in, opts...)
}

func (c *CheckoutClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+CheckoutServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
