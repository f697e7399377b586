package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/domain"
)

func TestNormalizeAndValidatePhone(t *testing.T) {
	assert.Equal(t, "+2348030000001", NormalizePhone(" +234 803-000 0001 "))
	assert.Equal(t, "08030000001", NormalizePhone("(0803) 000.0001"))

	assert.True(t, ValidPhone("+2348030000001"))
	assert.True(t, ValidPhone("08030000001"))
	assert.False(t, ValidPhone("12345"))
	assert.False(t, ValidPhone("+234abc0000001"))
	assert.False(t, ValidPhone(""))
}

func TestMessageUsesJSONFieldNames(t *testing.T) {
	v := New()
	err := v.Struct(domain.SalesOrderCreateRequest{
		Items:         []domain.OrderItemRequest{{ProductID: "cem-bua-425", Quantity: 0}},
		PaymentMethod: "cheque",
	})
	require.Error(t, err)

	msg := Message(err)
	assert.Contains(t, msg, "customerId is required")
	assert.Contains(t, msg, "items[0].quantity must be at least 1")
	assert.Contains(t, msg, "paymentMethod must be one of")
}

func TestPhoneTag(t *testing.T) {
	v := New()
	err := v.Struct(domain.CustomerRequest{Name: "Ada", Phone: "not-a-phone"})
	require.Error(t, err)
	assert.True(t, strings.Contains(Message(err), "phone must be a valid phone number"))

	assert.NoError(t, v.Struct(domain.CustomerRequest{Name: "Ada", Phone: "+2348030000001"}))
}
