package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// ABI surface of the externally defined UniTick settlement contract. This
// service only encodes/decodes calls against it; the contract itself is not
// part of this codebase.
const unitickABIJSON = `[
  {"type":"function","name":"createOrder","stateMutability":"nonpayable","inputs":[
    {"name":"vendors","type":"address[]"},
    {"name":"amounts","type":"uint256[]"},
    {"name":"serviceNames","type":"string[]"},
    {"name":"bookingDates","type":"uint256[]"},
    {"name":"metadata","type":"string"}],
   "outputs":[{"name":"orderId","type":"uint256"}]},
  {"type":"function","name":"getOrder","stateMutability":"view","inputs":[
    {"name":"orderId","type":"uint256"}],
   "outputs":[
    {"name":"buyer","type":"address"},
    {"name":"total","type":"uint256"},
    {"name":"fee","type":"uint256"},
    {"name":"timestamp","type":"uint256"},
    {"name":"paid","type":"bool"},
    {"name":"metadata","type":"string"}]},
  {"type":"function","name":"getOrderVendorPayments","stateMutability":"view","inputs":[
    {"name":"orderId","type":"uint256"}],
   "outputs":[
    {"name":"vendors","type":"address[]"},
    {"name":"amounts","type":"uint256[]"},
    {"name":"paid","type":"bool[]"}]},
  {"type":"function","name":"getOrderBookings","stateMutability":"view","inputs":[
    {"name":"orderId","type":"uint256"}],
   "outputs":[{"name":"tokenIds","type":"uint256[]"}]},
  {"type":"function","name":"verifyTicket","stateMutability":"view","inputs":[
    {"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"valid","type":"bool"}]},
  {"type":"function","name":"getTicketDetails","stateMutability":"view","inputs":[
    {"name":"tokenId","type":"uint256"}],
   "outputs":[
    {"name":"orderId","type":"uint256"},
    {"name":"vendor","type":"address"},
    {"name":"serviceName","type":"string"},
    {"name":"bookingDate","type":"uint256"},
    {"name":"used","type":"bool"}]},
  {"type":"function","name":"isFreeTicket","stateMutability":"view","inputs":[
    {"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"free","type":"bool"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[
    {"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"owner","type":"address"}]},
  {"type":"function","name":"isVendorWhitelisted","stateMutability":"view","inputs":[
    {"name":"vendor","type":"address"}],
   "outputs":[{"name":"listed","type":"bool"}]},
  {"type":"function","name":"addVendorToWhitelist","stateMutability":"nonpayable","inputs":[
    {"name":"vendor","type":"address"}],
   "outputs":[]},
  {"type":"event","name":"OrderCreated","anonymous":false,"inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"total","type":"uint256","indexed":false}]},
  {"type":"event","name":"TicketMinted","anonymous":false,"inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"vendor","type":"address","indexed":true}]}
]`

const tokenABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}],
   "outputs":[{"name":"balance","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"spender","type":"address"}],
   "outputs":[{"name":"remaining","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
    {"name":"spender","type":"address"},
    {"name":"amount","type":"uint256"}],
   "outputs":[{"name":"ok","type":"bool"}]}
]`

var (
	unitickABI = mustABI(unitickABIJSON)
	tokenABI   = mustABI(tokenABIJSON)

	OrderCreatedID = unitickABI.Events["OrderCreated"].ID
	TicketMintedID = unitickABI.Events["TicketMinted"].ID
)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

type EventKind int

const (
	EventUnknown EventKind = iota
	EventOrderCreated
	EventTicketMinted
)

// DecodeOrderEvent decodes one log against the contract interface. Both
// settlement events carry their ids as indexed topics, so decoding works for
// any log whose first topic matches, regardless of where it came from.
func DecodeOrderEvent(l types.Log) (kind EventKind, orderID, tokenID *big.Int) {
	if len(l.Topics) == 0 {
		return EventUnknown, nil, nil
	}
	switch l.Topics[0] {
	case OrderCreatedID:
		if len(l.Topics) < 2 {
			return EventUnknown, nil, nil
		}
		return EventOrderCreated, new(big.Int).SetBytes(l.Topics[1].Bytes()), nil
	case TicketMintedID:
		if len(l.Topics) < 3 {
			return EventUnknown, nil, nil
		}
		return EventTicketMinted,
			new(big.Int).SetBytes(l.Topics[1].Bytes()),
			new(big.Int).SetBytes(l.Topics[2].Bytes())
	}
	return EventUnknown, nil, nil
}
