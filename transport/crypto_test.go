package transport

import "testing"

func TestCryptographerInitialSealOpenRoundTrip(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	var client, server cryptographer
	client.installInitial(dcid, true)
	server.installInitial(dcid, false)

	header := []byte{longHeaderForm | fixedBit | 0x03, 0, 0, 0, 1, 8, 1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0}
	pnOffset := len(header) - 4
	plaintext := make([]byte, 64)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	sealed, err := client.seal(cryptoInitial, header, pnOffset, 4, plaintext, 1)
	if err != nil {
		t.Fatalf("client seal: %v", err)
	}
	full := append(append([]byte(nil), header...), sealed...)

	opened, pn, err := server.open(cryptoInitial, full, pnOffset, 0)
	if err != nil {
		t.Fatalf("server open: %v", err)
	}
	if pn != 1 {
		t.Fatalf("decoded packet number = %d, want 1", pn)
	}
	if string(opened) != string(plaintext) {
		t.Fatal("opened plaintext does not match what was sealed")
	}
}

func TestCryptographerOpenRejectsTamperedCiphertext(t *testing.T) {
	dcid := []byte{9, 9, 9, 9}
	var client, server cryptographer
	client.installInitial(dcid, true)
	server.installInitial(dcid, false)

	header := []byte{longHeaderForm | fixedBit | 0x03, 0, 0, 0, 1, 4, 9, 9, 9, 9, 0, 0, 0, 0}
	pnOffset := len(header) - 4
	plaintext := make([]byte, 64)

	sealed, err := client.seal(cryptoInitial, header, pnOffset, 4, plaintext, 1)
	if err != nil {
		t.Fatal(err)
	}
	full := append(append([]byte(nil), header...), sealed...)
	full[len(full)-1] ^= 0xff // flip a ciphertext byte

	if _, _, err := server.open(cryptoInitial, full, pnOffset, 0); err == nil {
		t.Fatal("open accepted tampered ciphertext")
	}
}

func TestCryptographerCanEncryptDecrypt(t *testing.T) {
	var c cryptographer
	if c.canEncrypt(cryptoInitial) || c.canDecrypt(cryptoInitial) {
		t.Fatal("a fresh cryptographer should have no installed keys")
	}
	c.installInitial([]byte{1, 2, 3, 4}, true)
	if !c.canEncrypt(cryptoInitial) || !c.canDecrypt(cryptoInitial) {
		t.Fatal("installInitial should set both read and write keys")
	}
	c.drop(cryptoInitial)
	if c.canEncrypt(cryptoInitial) || c.canDecrypt(cryptoInitial) {
		t.Fatal("drop should clear both read and write keys")
	}
}
