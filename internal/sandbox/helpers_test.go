package sandbox

import "github.com/ksred/order-migrator/internal/auth"

func shopifyCreds() auth.Credentials {
	return auth.Credentials{Store: "sandbox.myshopify.com", APIKey: "key", AccessToken: "shpat_test"}
}
