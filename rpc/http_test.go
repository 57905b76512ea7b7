package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"testing"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/storage"
)

const testToken = "test-token"

func testAddr(t *testing.T, fill byte) (string, [20]byte) {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	addr, err := crypto.NewAddress(raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	return addr.String(), addr.Array()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv(authTokenEnv, testToken)
	_, seller := testAddr(t, 0x01)
	_, buyer := testAddr(t, 0x02)
	node, err := core.NewNode(storage.NewMemDB(), []core.GenesisAlloc{
		{Address: seller, Balance: big.NewInt(1_000)},
		{Address: buyer, Balance: big.NewInt(1_000)},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return NewServer(node)
}

type rpcResult struct {
	status int
	result json.RawMessage
	err    *RPCError
}

func call(t *testing.T, server *Server, method string, params interface{}, token string) rpcResult {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest("POST", "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return rpcResult{status: rec.Code, result: decoded.Result, err: decoded.Error}
}

func createOverRPC(t *testing.T, server *Server, seller string) string {
	t.Helper()
	res := call(t, server, "escrow_create", map[string]string{
		"seller": seller,
		"price":  "100",
		"title":  "vintage camera",
		"nonce":  "01",
		"value":  "200",
	}, testToken)
	if res.err != nil {
		t.Fatalf("create error: %+v", res.err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.result, &created); err != nil {
		t.Fatalf("decode create result: %v", err)
	}
	if len(created.ID) != 64 {
		t.Fatalf("id = %q", created.ID)
	}
	return created.ID
}

func TestRejectsNonPost(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 405 {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestMethodNotFound(t *testing.T) {
	server := newTestServer(t)
	res := call(t, server, "escrow_unknown", nil, "")
	if res.status != 404 || res.err == nil || res.err.Code != codeMethodNotFound {
		t.Fatalf("result = %+v", res)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server := newTestServer(t)
	seller, _ := testAddr(t, 0x01)
	params := map[string]string{
		"seller": seller,
		"price":  "100",
		"title":  "lamp",
		"nonce":  "01",
		"value":  "200",
	}

	res := call(t, server, "escrow_create", params, "")
	if res.status != 401 || res.err == nil || res.err.Code != codeUnauthorized {
		t.Fatalf("missing token: %+v", res)
	}
	res = call(t, server, "escrow_create", params, "wrong-token")
	if res.status != 401 || res.err == nil || res.err.Code != codeUnauthorized {
		t.Fatalf("wrong token: %+v", res)
	}
}

func TestReadMethodsAreOpen(t *testing.T) {
	server := newTestServer(t)
	seller, _ := testAddr(t, 0x01)
	id := createOverRPC(t, server, seller)

	res := call(t, server, "escrow_get", map[string]string{"id": id}, "")
	if res.err != nil {
		t.Fatalf("get error: %+v", res.err)
	}
	var got struct {
		Seller string `json:"seller"`
		Status string `json:"status"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(res.result, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Seller != seller || got.Status != "waitingBuyer" || got.Price != "100" {
		t.Fatalf("got = %+v", got)
	}
}

func TestLifecycleOverRPC(t *testing.T) {
	server := newTestServer(t)
	seller, _ := testAddr(t, 0x01)
	buyer, _ := testAddr(t, 0x02)
	id := createOverRPC(t, server, seller)

	contact := hex.EncodeToString([]byte("enc-contact"))
	res := call(t, server, "escrow_purchase", map[string]string{
		"id":          id,
		"caller":      buyer,
		"contactInfo": contact,
		"value":       "200",
	}, testToken)
	if res.err != nil {
		t.Fatalf("purchase: %+v", res.err)
	}

	res = call(t, server, "escrow_getContactInfo", map[string]string{"id": id, "caller": seller}, "")
	if res.err != nil {
		t.Fatalf("contact info: %+v", res.err)
	}
	var blob struct {
		ContactInfo string `json:"contactInfo"`
	}
	if err := json.Unmarshal(res.result, &blob); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if blob.ContactInfo != contact {
		t.Fatalf("contact = %q, want %q", blob.ContactInfo, contact)
	}

	res = call(t, server, "escrow_confirm", map[string]string{"id": id, "caller": buyer}, testToken)
	if res.err != nil {
		t.Fatalf("confirm: %+v", res.err)
	}

	res = call(t, server, "escrow_pendingBalance", map[string]string{"id": id, "account": seller}, "")
	if res.err != nil {
		t.Fatalf("pending: %+v", res.err)
	}
	var pending struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(res.result, &pending); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pending.Amount != "300" {
		t.Fatalf("seller pending = %s, want 300", pending.Amount)
	}

	res = call(t, server, "escrow_withdraw", map[string]string{"id": id, "caller": seller}, testToken)
	if res.err != nil {
		t.Fatalf("withdraw: %+v", res.err)
	}
	var withdrawn struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(res.result, &withdrawn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if withdrawn.Amount != "300" {
		t.Fatalf("withdrawn = %s, want 300", withdrawn.Amount)
	}

	res = call(t, server, "escrow_getAccount", map[string]string{"address": seller}, "")
	if res.err != nil {
		t.Fatalf("account: %+v", res.err)
	}
	var account struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(res.result, &account); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if account.Balance != "1100" {
		t.Fatalf("seller balance = %s, want 1100", account.Balance)
	}
}

func TestEscrowErrorCodes(t *testing.T) {
	server := newTestServer(t)
	seller, _ := testAddr(t, 0x01)
	buyer, _ := testAddr(t, 0x02)
	id := createOverRPC(t, server, seller)

	unknown := make([]byte, 32)
	unknown[0] = 0xEE
	res := call(t, server, "escrow_get", map[string]string{"id": hex.EncodeToString(unknown)}, "")
	if res.status != 404 || res.err == nil || res.err.Code != codeEscrowNotFound {
		t.Fatalf("not found: %+v", res)
	}

	res = call(t, server, "escrow_cancel", map[string]string{"id": id, "caller": buyer}, testToken)
	if res.status != 403 || res.err == nil || res.err.Code != codeEscrowForbidden {
		t.Fatalf("forbidden: %+v", res)
	}

	res = call(t, server, "escrow_purchase", map[string]string{
		"id": id, "caller": buyer, "contactInfo": "", "value": "150",
	}, testToken)
	if res.status != 400 || res.err == nil || res.err.Code != codeEscrowInvalidAmount {
		t.Fatalf("invalid amount: %+v", res)
	}

	res = call(t, server, "escrow_confirm", map[string]string{"id": id, "caller": buyer}, testToken)
	if res.status != 409 || res.err == nil || res.err.Code != codeEscrowInvalidState {
		t.Fatalf("invalid state: %+v", res)
	}
}

func TestInvalidParams(t *testing.T) {
	server := newTestServer(t)
	res := call(t, server, "escrow_get", map[string]string{"id": "zz"}, "")
	if res.err == nil || res.err.Code != codeInvalidParams {
		t.Fatalf("bad hex id: %+v", res)
	}
	res = call(t, server, "escrow_get", nil, "")
	if res.err == nil || res.err.Code != codeInvalidParams {
		t.Fatalf("missing params: %+v", res)
	}
}
