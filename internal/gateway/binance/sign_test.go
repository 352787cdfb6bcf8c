package binance

import "testing"

func TestSignKnownVector(t *testing.T) {
	// Example from the exchange API docs: signing the canonical order query
	// with the documented test secret.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := Sign(secret, query); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestSignDeterministic(t *testing.T) {
	a := Sign("secret", "symbol=BTCUSDT&timestamp=1")
	b := Sign("secret", "symbol=BTCUSDT&timestamp=1")
	if a != b {
		t.Error("same secret and query must produce the same digest")
	}
}

func TestSignSensitivity(t *testing.T) {
	base := Sign("secret", "a=1&b=2")
	if Sign("secret", "b=2&a=1") == base {
		t.Error("parameter order must change the digest")
	}
	if Sign("other", "a=1&b=2") == base {
		t.Error("secret must change the digest")
	}
}
