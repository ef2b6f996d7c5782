// Command glweb talks to a Greenlight node over grpc-web.
//
//	glweb call Getinfo
//	glweb call Invoice '{"label": "coffee", "description": "espresso", "amount_msat": {"amount": 150000}}'
//	glweb stream-events
//	glweb serve --listen :1111
package main

func main() {
	Execute()
}
