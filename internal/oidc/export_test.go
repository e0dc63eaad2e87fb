package oidc

import "time"

func (d *IDTokenDecoder) SetNow(now func() time.Time) {
	d.now = now
}

var VerifyAccessToken = verifyAccessToken
