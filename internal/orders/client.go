package orders

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
)

const getOrderMethod = "/orders.v1.OrderService/GetOrder"

// Client reads orders from the order subsystem over gRPC with structpb payloads.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewClient(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial order grpc: %w", err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetOrder returns nil, nil when the order subsystem does not know the id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := structpb.NewStruct(map[string]any{"order_id": orderID})
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, getOrderMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return decodeOrder(orderID, resp), nil
}

func decodeOrder(orderID string, resp *structpb.Struct) *model.Order {
	fields := resp.GetFields()
	order := &model.Order{
		ID:         fields["id"].GetStringValue(),
		BuyerID:    fields["buyer_id"].GetStringValue(),
		BuyerName:  fields["buyer_name"].GetStringValue(),
		BuyerPhone: fields["buyer_phone"].GetStringValue(),
	}
	if order.ID == "" {
		order.ID = orderID
	}
	for _, v := range fields["items"].GetListValue().GetValues() {
		item := v.GetStructValue().GetFields()
		order.Items = append(order.Items, model.LineItem{
			ProductName: item["product_name"].GetStringValue(),
			Physical:    item["physical"].GetBoolValue(),
		})
	}
	return order
}
