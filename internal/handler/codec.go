package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// encoder is implemented by every response payload.
type encoder interface {
	Encode(e *jx.Encoder)
}

// decoder is implemented by every request payload.
type decoder interface {
	Decode(d *jx.Decoder) error
}

// fieldError annotates a failed field decode with the field name.
func fieldError(key []byte, err error) error {
	if err != nil {
		return errors.Wrapf(err, "decode field %q", key)
	}
	return nil
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Code    int
	Message string
}

// Encode implements encoder.
func (s *errorResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(s.Code)
	e.FieldStart("message")
	e.Str(s.Message)
	e.ObjEnd()
}

// Decode implements decoder.
func (s *errorResponse) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			s.Code, err = d.Int()
		case "message":
			s.Message, err = d.Str()
		default:
			err = d.Skip()
		}
		return fieldError(key, err)
	})
}

type createOrderRequest struct {
	CustomerEmail string
	Items         []orderItemRequest
}

// Decode implements decoder. Unknown fields are rejected so a client-side
// total can never be smuggled in.
func (s *createOrderRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customerEmail":
			v, err := d.Str()
			s.CustomerEmail = v
			return fieldError(key, err)
		case "items":
			s.Items = make([]orderItemRequest, 0)
			return fieldError(key, d.Arr(func(d *jx.Decoder) error {
				var it orderItemRequest
				if err := it.Decode(d); err != nil {
					return err
				}
				s.Items = append(s.Items, it)
				return nil
			}))
		default:
			return errors.Errorf("unknown field %q", key)
		}
	})
}

type orderItemRequest struct {
	ProductID string
	Quantity  int
}

// Decode implements decoder.
func (s *orderItemRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			s.ProductID, err = d.Str()
		case "quantity":
			s.Quantity, err = d.Int()
		default:
			return errors.Errorf("unknown field %q", key)
		}
		return fieldError(key, err)
	})
}

type updateStatusRequest struct {
	Status string
}

// Decode implements decoder.
func (s *updateStatusRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "status" {
			return errors.Errorf("unknown field %q", key)
		}
		v, err := d.Str()
		s.Status = v
		return fieldError(key, err)
	})
}

type orderResponse struct {
	ID            string
	CustomerEmail string
	TotalAmount   string
	LicenseKey    string
	Status        string
	CreatedAt     time.Time
	Items         []orderItemResponse
}

// Encode implements encoder.
func (s *orderResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("customerEmail")
	e.Str(s.CustomerEmail)
	e.FieldStart("totalAmount")
	e.Str(s.TotalAmount)
	e.FieldStart("licenseKey")
	e.Str(s.LicenseKey)
	e.FieldStart("status")
	e.Str(s.Status)
	e.FieldStart("createdAt")
	e.Str(s.CreatedAt.Format(time.RFC3339Nano))
	e.FieldStart("items")
	e.ArrStart()
	for i := range s.Items {
		s.Items[i].Encode(e)
	}
	e.ArrEnd()
	e.ObjEnd()
}

// Decode implements decoder.
func (s *orderResponse) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			s.ID, err = d.Str()
		case "customerEmail":
			s.CustomerEmail, err = d.Str()
		case "totalAmount":
			s.TotalAmount, err = d.Str()
		case "licenseKey":
			s.LicenseKey, err = d.Str()
		case "status":
			s.Status, err = d.Str()
		case "createdAt":
			var raw string
			if raw, err = d.Str(); err == nil {
				s.CreatedAt, err = time.Parse(time.RFC3339Nano, raw)
			}
		case "items":
			s.Items = make([]orderItemResponse, 0)
			err = d.Arr(func(d *jx.Decoder) error {
				var it orderItemResponse
				if err := it.Decode(d); err != nil {
					return err
				}
				s.Items = append(s.Items, it)
				return nil
			})
		default:
			err = d.Skip()
		}
		return fieldError(key, err)
	})
}

type orderItemResponse struct {
	ProductID   string
	ProductName string
	Price       string
	Quantity    int
}

// Encode implements encoder. An unknown product name is omitted.
func (s *orderItemResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("productId")
	e.Str(s.ProductID)
	if s.ProductName != "" {
		e.FieldStart("productName")
		e.Str(s.ProductName)
	}
	e.FieldStart("price")
	e.Str(s.Price)
	e.FieldStart("quantity")
	e.Int(s.Quantity)
	e.ObjEnd()
}

// Decode implements decoder.
func (s *orderItemResponse) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			s.ProductID, err = d.Str()
		case "productName":
			s.ProductName, err = d.Str()
		case "price":
			s.Price, err = d.Str()
		case "quantity":
			s.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return fieldError(key, err)
	})
}

// orderList is a JSON array of orders; it encodes as [] when empty.
type orderList []orderResponse

// Encode implements encoder.
func (s orderList) Encode(e *jx.Encoder) {
	e.ArrStart()
	for i := range s {
		s[i].Encode(e)
	}
	e.ArrEnd()
}

// Decode implements decoder.
func (s *orderList) Decode(d *jx.Decoder) error {
	*s = make(orderList, 0)
	return d.Arr(func(d *jx.Decoder) error {
		var o orderResponse
		if err := o.Decode(d); err != nil {
			return err
		}
		*s = append(*s, o)
		return nil
	})
}

type statsResponse struct {
	TotalRevenue string
	TotalOrders  int
	RecentOrders orderList
}

// Encode implements encoder.
func (s *statsResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("totalRevenue")
	e.Str(s.TotalRevenue)
	e.FieldStart("totalOrders")
	e.Int(s.TotalOrders)
	e.FieldStart("recentOrders")
	s.RecentOrders.Encode(e)
	e.ObjEnd()
}

// Decode implements decoder.
func (s *statsResponse) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "totalRevenue":
			s.TotalRevenue, err = d.Str()
		case "totalOrders":
			s.TotalOrders, err = d.Int()
		case "recentOrders":
			err = s.RecentOrders.Decode(d)
		default:
			err = d.Skip()
		}
		return fieldError(key, err)
	})
}

type linkResponse struct {
	DownloadURL string
	FileName    string
}

// Encode implements encoder.
func (s *linkResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("downloadUrl")
	e.Str(s.DownloadURL)
	e.FieldStart("fileName")
	e.Str(s.FileName)
	e.ObjEnd()
}
