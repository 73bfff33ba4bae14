// Package settings stores typed key/value configuration at three scopes:
// global (settings), per user (user_settings) and per tenant
// (tenant_settings).
//
// Values are strings interpreted by their declared type (string, integer,
// boolean or json) and validated on write. A setting flagged is_encrypted
// is sealed with XChaCha20-Poly1305 before it is stored. Reading one that
// cannot be opened fails with ErrDecrypt rather than returning the stored
// bytes. Settings saved with is_editable false can be neither changed nor
// deleted through the Store.
//
//	cipher, _ := settings.NewCipher(settings.DeriveKey(secret))
//	store := settings.NewStore(db, cipher)
//	err := store.Set(ctx, &settings.Setting{
//		Scope:       settings.ScopeTenant,
//		OwnerID:     tenantID,
//		Key:         "billing.api_key",
//		Value:       apiKey,
//		IsEncrypted: true,
//		IsEditable:  true,
//	})
package settings
