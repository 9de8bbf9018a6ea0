/*
Package iso7816 implements the ISO/IEC 7816 building blocks used to talk to Secure Access Modules.

It provides Command and Response APDU structures, Status Word (SW) analysis, CLA/INS
decoding, a Client that hides T=0 transport procedures, and the Trace audit log.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

A SAM reader usually receives a whole batch of commands at once. Client.Transmit runs
such a batch over a single-APDU Transmitter and may stop at the first failing status word,
returning fewer responses than requests.

# Status Words

Every response ends with a 2-byte Status Word (SW).
  - 0x9000: Success (OK).
  - 0x61XX: Success, but response data is still available (XX bytes).
  - 0x6CXX: Error, wrong length expectation (XX is the correct length).
  - Other: Various warning and error conditions.

# Usage Example: Running a batch and dumping the exchange

	client := iso7816.NewClient(card)

	responses, err := client.Transmit([][]byte{
	    {0x80, 0x84, 0x00, 0x00, 0x08}, // GET CHALLENGE, 8 bytes
	}, true)
	if err != nil {
	    log.Fatal(err)
	}

	resp, _ := iso7816.ParseResponseAPDU(responses[0])
	fmt.Println(resp)
	fmt.Println(client.Trace().Describe())
*/
package iso7816
