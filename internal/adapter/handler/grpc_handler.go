package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/lot-shop/internal/core/domain"
	"github.com/rl1809/lot-shop/internal/core/service"
	"github.com/rl1809/lot-shop/internal/port"
)

const shopServiceName = "lotshop.Shop"

type ReserveRequest struct {
	BuyerID  int64  `json:"buyer_id"`
	Type     string `json:"type"`
	Quantity int32  `json:"quantity"`
}

type ConfirmRequest struct {
	BuyerID  int64  `json:"buyer_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type ReleaseRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

type StockRequest struct{}

type RestockLot struct {
	Type    string          `json:"type"`
	Format  string          `json:"format"`
	Price   decimal.Decimal `json:"price"`
	Content string          `json:"content"`
}

type RestockRequest struct {
	AddedBy string       `json:"added_by"`
	Lots    []RestockLot `json:"lots"`
}

type TopUpRequest struct {
	TelegramID int64           `json:"telegram_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type ShopResponse struct {
	Success   bool            `json:"success"`
	Outcome   string          `json:"outcome"`
	Message   string          `json:"message"`
	LotIDs    []int64         `json:"lot_ids,omitempty"`
	Total     decimal.Decimal `json:"total"`
	SaleID    string          `json:"sale_id,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

type StockResponseLine struct {
	Type      string          `json:"type"`
	MinPrice  decimal.Decimal `json:"min_price"`
	Available int32           `json:"available"`
}

type StockReply struct {
	Lines []StockResponseLine `json:"lines"`
}

type RestockReply struct {
	Added int32 `json:"added"`
}

type TopUpReply struct {
	Balance decimal.Decimal `json:"balance"`
}

// ShopServer is the server API for the lotshop.Shop service.
type ShopServer interface {
	Reserve(context.Context, *ReserveRequest) (*ShopResponse, error)
	Confirm(context.Context, *ConfirmRequest) (*ShopResponse, error)
	Release(context.Context, *ReleaseRequest) (*ShopResponse, error)
	Stock(context.Context, *StockRequest) (*StockReply, error)
	Restock(context.Context, *RestockRequest) (*RestockReply, error)
	TopUp(context.Context, *TopUpRequest) (*TopUpReply, error)
}

type GRPCHandler struct {
	shop     Shop
	accounts Accounts
	log      zerolog.Logger
}

func NewGRPCHandler(shop Shop, accounts Accounts, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{shop: shop, accounts: accounts, log: log}
}

func (h *GRPCHandler) Reserve(ctx context.Context, req *ReserveRequest) (*ShopResponse, error) {
	if req.BuyerID == 0 || req.Type == "" {
		return nil, status.Error(codes.InvalidArgument, "buyer_id and type are required")
	}

	res, err := h.shop.Reserve(ctx, req.BuyerID, req.Type, int(req.Quantity))
	if err != nil {
		return nil, h.statusError("reserve", err)
	}

	if res.Outcome != service.OutcomeOK {
		return &ShopResponse{Outcome: res.Outcome.String(), Message: "not enough lots in stock"}, nil
	}
	return &ShopResponse{
		Success:   true,
		Outcome:   res.Outcome.String(),
		Message:   "lots reserved",
		LotIDs:    domain.LotIDs(res.Claim.Items),
		Total:     domain.TotalPrice(res.Claim.Items),
		ExpiresAt: &res.Claim.ExpiresAt,
	}, nil
}

func (h *GRPCHandler) Confirm(ctx context.Context, req *ConfirmRequest) (*ShopResponse, error) {
	if req.BuyerID == 0 {
		return nil, status.Error(codes.InvalidArgument, "buyer_id is required")
	}

	res, err := h.shop.Confirm(ctx, domain.Requester{ID: req.BuyerID, Username: req.Username, Name: req.Name})
	if err != nil {
		return nil, h.statusError("confirm", err)
	}

	switch res.Outcome {
	case service.OutcomeOK:
		return &ShopResponse{
			Success: true,
			Outcome: res.Outcome.String(),
			Message: "purchase completed",
			LotIDs:  domain.LotIDs(res.Sale.Items),
			Total:   res.Sale.Total,
			SaleID:  res.Sale.ID,
		}, nil
	case service.OutcomeInsufficientBalance:
		return &ShopResponse{
			Outcome:   res.Outcome.String(),
			Message:   "insufficient balance",
			LotIDs:    domain.LotIDs(res.Claim.Items),
			Total:     domain.TotalPrice(res.Claim.Items),
			ExpiresAt: &res.Claim.ExpiresAt,
		}, nil
	default:
		return &ShopResponse{Outcome: res.Outcome.String(), Message: "no active reservation"}, nil
	}
}

func (h *GRPCHandler) Release(ctx context.Context, req *ReleaseRequest) (*ShopResponse, error) {
	if req.BuyerID == 0 {
		return nil, status.Error(codes.InvalidArgument, "buyer_id is required")
	}
	if err := h.shop.Release(ctx, req.BuyerID); err != nil {
		return nil, h.statusError("release", err)
	}
	return &ShopResponse{Success: true, Outcome: service.OutcomeOK.String(), Message: "reservation released"}, nil
}

func (h *GRPCHandler) Stock(ctx context.Context, _ *StockRequest) (*StockReply, error) {
	lines, err := h.shop.StockView(ctx)
	if err != nil {
		return nil, h.statusError("stock", err)
	}

	reply := &StockReply{Lines: make([]StockResponseLine, len(lines))}
	for i, line := range lines {
		reply.Lines[i] = StockResponseLine{Type: line.Type, MinPrice: line.MinPrice, Available: int32(line.Available)}
	}
	return reply, nil
}

func (h *GRPCHandler) Restock(ctx context.Context, req *RestockRequest) (*RestockReply, error) {
	lots := make([]domain.Lot, 0, len(req.Lots))
	for _, l := range req.Lots {
		if l.Type == "" || l.Content == "" || !l.Price.IsPositive() {
			return nil, status.Error(codes.InvalidArgument, "every lot needs a type, content and a positive price")
		}
		if len(l.Type) > domain.MaxTypeLength {
			return nil, status.Errorf(codes.InvalidArgument, "lot type is longer than %d bytes", domain.MaxTypeLength)
		}
		format := l.Format
		if format == "" {
			format = "txt"
		}
		lots = append(lots, domain.Lot{Type: l.Type, Format: format, Price: l.Price, Content: l.Content, AddedBy: req.AddedBy})
	}

	added, err := h.shop.Restock(ctx, lots)
	if err != nil {
		return nil, h.statusError("restock", err)
	}
	return &RestockReply{Added: int32(added)}, nil
}

func (h *GRPCHandler) TopUp(ctx context.Context, req *TopUpRequest) (*TopUpReply, error) {
	balance, err := h.accounts.TopUp(ctx, req.TelegramID, req.Amount)
	if err != nil {
		return nil, h.statusError("top_up", err)
	}
	return &TopUpReply{Balance: balance}, nil
}

func (h *GRPCHandler) statusError(op string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidLot):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, port.ErrUserNotFound):
		return status.Error(codes.NotFound, "user not found")
	case errors.Is(err, service.ErrStoreUnavailable):
		h.log.Error().Err(err).Str("op", op).Msg("store unavailable")
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		h.log.Error().Err(err).Str("op", op).Msg("request failed")
		return status.Error(codes.Internal, "internal error")
	}
}

// TokenInterceptor requires a shared token, sent as "authorization" metadata, on every
// method except Stock. An empty token disables the guarded methods entirely.
func TokenInterceptor(token string) grpc.UnaryServerInterceptor {
	public := map[string]bool{
		"/" + shopServiceName + "/Stock": true,
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		if public[info.FullMethod] {
			return next(ctx, req)
		}
		if token == "" {
			return nil, status.Error(codes.PermissionDenied, "shop methods are disabled")
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || !validToken(values[0], token) {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(ctx, req)
	}
}

func validToken(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func RegisterShopServer(s grpc.ServiceRegistrar, srv ShopServer) {
	s.RegisterService(&ShopServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(ShopServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ShopServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + shopServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ShopServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ShopServiceDesc describes lotshop.Shop for grpc.Server.RegisterService.
var ShopServiceDesc = grpc.ServiceDesc{
	ServiceName: shopServiceName,
	HandlerType: (*ShopServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Reserve", ShopServer.Reserve),
		unaryHandler("Confirm", ShopServer.Confirm),
		unaryHandler("Release", ShopServer.Release),
		unaryHandler("Stock", ShopServer.Stock),
		unaryHandler("Restock", ShopServer.Restock),
		unaryHandler("TopUp", ShopServer.TopUp),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lotshop/shop",
}

// ShopClient calls lotshop.Shop using the JSON codec.
type ShopClient struct {
	cc grpc.ClientConnInterface
}

func NewShopClient(cc grpc.ClientConnInterface) *ShopClient {
	return &ShopClient{cc: cc}
}

func (c *ShopClient) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+shopServiceName+"/"+method, in, out, opts...)
}

func (c *ShopClient) Reserve(ctx context.Context, in *ReserveRequest, opts ...grpc.CallOption) (*ShopResponse, error) {
	out := new(ShopResponse)
	return out, c.invoke(ctx, "Reserve", in, out, opts...)
}

func (c *ShopClient) Confirm(ctx context.Context, in *ConfirmRequest, opts ...grpc.CallOption) (*ShopResponse, error) {
	out := new(ShopResponse)
	return out, c.invoke(ctx, "Confirm", in, out, opts...)
}

func (c *ShopClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ShopResponse, error) {
	out := new(ShopResponse)
	return out, c.invoke(ctx, "Release", in, out, opts...)
}

func (c *ShopClient) Stock(ctx context.Context, in *StockRequest, opts ...grpc.CallOption) (*StockReply, error) {
	out := new(StockReply)
	return out, c.invoke(ctx, "Stock", in, out, opts...)
}

func (c *ShopClient) Restock(ctx context.Context, in *RestockRequest, opts ...grpc.CallOption) (*RestockReply, error) {
	out := new(RestockReply)
	return out, c.invoke(ctx, "Restock", in, out, opts...)
}

func (c *ShopClient) TopUp(ctx context.Context, in *TopUpRequest, opts ...grpc.CallOption) (*TopUpReply, error) {
	out := new(TopUpReply)
	return out, c.invoke(ctx, "TopUp", in, out, opts...)
}
