package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/xenking/cardshop/internal/domain/analytics"
	"github.com/xenking/cardshop/internal/domain/auth"
	"github.com/xenking/cardshop/internal/domain/cart"
	"github.com/xenking/cardshop/internal/domain/coupon"
	"github.com/xenking/cardshop/internal/domain/order"
	"github.com/xenking/cardshop/internal/domain/payment"
	"github.com/xenking/cardshop/internal/domain/product"
	"github.com/xenking/cardshop/internal/domain/settings"
)

const genericFailure = "Something went wrong. Please try again."

// errorStatus converts domain errors to an HTTP status and message.
func errorStatus(err error) (int, string) {
	var (
		inErr         *inputError
		couponErr     *coupon.InvalidError
		ruleErr       *coupon.ValidationError
		checkoutErr   *order.ValidationError
		transitionErr *order.TransitionError
		paymentErr    *order.PaymentError
		persistErr    *order.PersistenceError
	)

	switch {
	case errors.As(err, &inErr):
		return http.StatusBadRequest, inErr.Error()
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized."
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, "Product not found."
	case errors.Is(err, cart.ErrOutOfStock):
		return http.StatusConflict, "This product is out of stock."
	case errors.Is(err, cart.ErrQuantityLimit):
		return http.StatusBadRequest, "You can add at most " + strconv.Itoa(cart.MaxQuantity) + " of a card."
	case errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound, "Item is not in your cart."
	case errors.Is(err, settings.ErrUnknownShippingMethod):
		return http.StatusBadRequest, "Unknown shipping method."
	case errors.As(err, &couponErr):
		return http.StatusUnprocessableEntity, couponErr.Message()
	case errors.As(err, &ruleErr):
		return http.StatusBadRequest, ruleErr.Error()
	case errors.Is(err, coupon.ErrCodeTaken):
		return http.StatusConflict, "A coupon with this code already exists."
	case errors.Is(err, order.ErrEmptyCart):
		return http.StatusBadRequest, "Your cart is empty."
	case errors.As(err, &checkoutErr):
		return http.StatusBadRequest, checkoutErr.Error()
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "Order not found."
	case errors.As(err, &transitionErr):
		return http.StatusConflict, transitionErr.Error()
	case errors.Is(err, payment.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Online payment is not available right now."
	case errors.Is(err, order.ErrPaymentReused):
		return http.StatusConflict, "This PayPal payment has already been used for an order."
	case errors.Is(err, order.ErrPaymentIncomplete), errors.Is(err, order.ErrPaymentMismatch):
		// The buyer may have been charged.
		return http.StatusPaymentRequired, "Your payment could not be confirmed. Please contact us before trying again."
	case errors.As(err, &paymentErr):
		return http.StatusPaymentRequired, "Your payment could not be completed. You have not been charged."
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "We could not save your order. Please contact us before retrying."
	case errors.Is(err, analytics.ErrInvalidQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, analytics.ErrInvalidEmail):
		return http.StatusBadRequest, "Please enter a valid email address."
	case errors.Is(err, analytics.ErrUnknownPartner):
		return http.StatusNotFound, "Unknown partner."
	case errors.Is(err, payment.ErrMalformedEvent):
		return http.StatusBadRequest, "Malformed webhook event."
	default:
		return http.StatusInternalServerError, genericFailure
	}
}
