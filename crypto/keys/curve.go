package keys

import (
	"crypto/elliptic"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

/*
Ledger keys and signing are based on elliptic curve cryptography. The curve
is treated as an implementation detail behind Curve(): any ECDSA curve with
public keys small enough to travel on the wire would satisfy the data
model's PublicKey/PrivateKey contract. We keep secp256k1 because it is also
used by Bitcoin and Ethereum, which makes those ecosystems' keys usable here
without conversion.
*/

//Parameters of the secp256k1 curve. They are used in other function to verify
//that a private key is valid.
var (
	secp256k1N, _  = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
	secp256k1halfN = new(big.Int).Div(secp256k1N, big.NewInt(2))
)

//Curve returns an elliptic.Curve. We use btcsuite's golang implementation of
//secp256k1.
func Curve() elliptic.Curve {
	return btcec.S256() //secp256k1
}
