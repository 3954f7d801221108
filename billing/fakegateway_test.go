package billing

import (
	"fiscalai-backend/gateway"
)

// fakeGateway is a scriptable Gateway used across the billing tests.
type fakeGateway struct {
	name string

	customerRef string
	customerErr error

	attachRef string
	attachErr error

	createResult gateway.SubscriptionResult
	createErr    error

	cancelErr error

	statusResult gateway.StatusResult
	statusErr    error

	chargeResult gateway.ChargeResult
	chargeErr    error
	chargeCalls  int
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) CreateOrGetCustomer(existingRef string, in gateway.CustomerInput) (string, error) {
	if f.customerErr != nil {
		return "", f.customerErr
	}
	if f.customerRef != "" {
		return f.customerRef, nil
	}
	return existingRef, nil
}

func (f *fakeGateway) AttachPaymentMethod(customerRef, token string) (string, error) {
	return f.attachRef, f.attachErr
}

func (f *fakeGateway) CreateSubscription(in gateway.SubscriptionInput) (gateway.SubscriptionResult, error) {
	return f.createResult, f.createErr
}

func (f *fakeGateway) CancelSubscription(subscriptionRef string) error {
	return f.cancelErr
}

func (f *fakeGateway) GetStatus(subscriptionRef string) (gateway.StatusResult, error) {
	return f.statusResult, f.statusErr
}

func (f *fakeGateway) Charge(customerRef, paymentMethodRef string, amountCents int64, description string) (gateway.ChargeResult, error) {
	f.chargeCalls++
	return f.chargeResult, f.chargeErr
}
